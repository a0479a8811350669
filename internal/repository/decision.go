package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-botengine/internal/models"
)

const decisionColumns = `log_id, bot_id, owner_id, ts, outcome, side, pair, price, quantity,
	fee, pnl_delta, mode, trigger_reason, risk_check, order_id, evidence`

type DecisionLogRepo struct {
	pool *pgxpool.Pool
}

func NewDecisionLogRepo(pool *pgxpool.Pool) *DecisionLogRepo {
	return &DecisionLogRepo{pool: pool}
}

// Append assigns a log_id when the entry has none. Retrying an entry with the same
// log_id is a no-op, so callers can safely retry after an ambiguous failure.
func (r *DecisionLogRepo) Append(ctx context.Context, e *models.DecisionLogEntry) (string, error) {
	if e.LogID == "" {
		e.LogID = uuid.NewString()
	}
	var evidence []byte
	if len(e.Evidence) > 0 {
		var err error
		if evidence, err = json.Marshal(e.Evidence); err != nil {
			return "", fmt.Errorf("encode evidence: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO decision_log (`+decisionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (log_id) DO NOTHING`,
		e.LogID, e.BotID, e.OwnerID, e.Timestamp, e.Outcome, e.Side, e.Pair, e.Price, e.Quantity,
		e.Fee, e.PnLDelta, e.Mode, e.TriggerReason, e.RiskCheck, e.OrderID, evidence,
	)
	if err != nil {
		return "", fmt.Errorf("append decision: %w", err)
	}
	return e.LogID, nil
}

// Query returns entries newest first.
func (r *DecisionLogRepo) Query(ctx context.Context, f models.DecisionFilter) ([]models.DecisionLogEntry, error) {
	query, args := buildDecisionQuery(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// likeEscaper makes the text filter a plain substring match.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildDecisionQuery appends one clause per non-zero filter field.
func buildDecisionQuery(f models.DecisionFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + decisionColumns + ` FROM decision_log WHERE 1=1`)
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}

	if f.OwnerID != "" {
		add(" AND owner_id = $%d", f.OwnerID)
	}
	if f.BotID != "" {
		add(" AND bot_id = $%d", f.BotID)
	}
	if f.Side != "" {
		add(" AND side = $%d", string(f.Side))
	}
	if f.Outcome != "" {
		add(" AND outcome = $%d", string(f.Outcome))
	}
	if f.From != nil {
		add(" AND ts >= $%d", *f.From)
	}
	if f.To != nil {
		add(" AND ts <= $%d", *f.To)
	}
	if f.Text != "" {
		args = append(args, "%"+likeEscaper.Replace(f.Text)+"%")
		n := len(args)
		fmt.Fprintf(&b, ` AND (trigger_reason ILIKE $%d ESCAPE '\' OR pair ILIKE $%d ESCAPE '\')`, n, n)
	}
	add(" ORDER BY ts DESC, log_id DESC LIMIT $%d", clampLimit(f.Limit))
	return b.String(), args
}

// --- scan helpers ---

func collectDecisions(rows rowsIter) ([]models.DecisionLogEntry, error) {
	var out []models.DecisionLogEntry
	for rows.Next() {
		var e models.DecisionLogEntry
		var evidence []byte
		if err := rows.Scan(
			&e.LogID, &e.BotID, &e.OwnerID, &e.Timestamp, &e.Outcome, &e.Side, &e.Pair, &e.Price,
			&e.Quantity, &e.Fee, &e.PnLDelta, &e.Mode, &e.TriggerReason, &e.RiskCheck, &e.OrderID, &evidence,
		); err != nil {
			return nil, err
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &e.Evidence); err != nil {
				return nil, fmt.Errorf("decode evidence for %s: %w", e.LogID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
