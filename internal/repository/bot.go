package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-botengine/internal/models"
)

const botColumns = `id, owner_id, name, type, pair, mode, status, status_reason,
	params, risk, runtime_state, preset_id, created_at, updated_at`

type BotRepo struct {
	pool *pgxpool.Pool
}

func NewBotRepo(pool *pgxpool.Pool) *BotRepo {
	return &BotRepo{pool: pool}
}

func (r *BotRepo) Create(ctx context.Context, b *models.Bot) error {
	params, risk, runtime, err := encodeBot(b)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO bots (`+botColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		b.ID, b.OwnerID, b.Name, b.Type, b.Pair, b.Mode, b.Status, b.StatusReason,
		params, risk, runtime, b.PresetID, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bot %s: %w", b.ID, err)
	}
	return nil
}

func (r *BotRepo) Get(ctx context.Context, id string) (*models.Bot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	b, err := scanBot(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Save overwrites the mutable columns. type and created_at never change.
func (r *BotRepo) Save(ctx context.Context, b *models.Bot) error {
	params, risk, runtime, err := encodeBot(b)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE bots SET name = $2, pair = $3, mode = $4, status = $5, status_reason = $6,
		   params = $7, risk = $8, runtime_state = $9, updated_at = $10
		 WHERE id = $1`,
		b.ID, b.Name, b.Pair, b.Mode, b.Status, b.StatusReason,
		params, risk, runtime, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update bot %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *BotRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *BotRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.Bot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func (r *BotRepo) ListRunning(ctx context.Context) ([]models.Bot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE status = 'running' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBots(rows)
}

func encodeBot(b *models.Bot) (params, risk, runtime []byte, err error) {
	if params, err = json.Marshal(b.Params); err != nil {
		return nil, nil, nil, fmt.Errorf("encode params: %w", err)
	}
	if b.Risk != nil {
		if risk, err = json.Marshal(b.Risk); err != nil {
			return nil, nil, nil, fmt.Errorf("encode risk: %w", err)
		}
	}
	if runtime, err = json.Marshal(b.Runtime); err != nil {
		return nil, nil, nil, fmt.Errorf("encode runtime state: %w", err)
	}
	return params, risk, runtime, nil
}

// --- scan helpers ---

func scanBot(row scannable) (*models.Bot, error) {
	var b models.Bot
	var params, risk, runtime []byte
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Name, &b.Type, &b.Pair, &b.Mode, &b.Status, &b.StatusReason,
		&params, &risk, &runtime, &b.PresetID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if b.Params, err = models.DecodeParams(b.Type, params); err != nil {
		return nil, fmt.Errorf("bot %s: %w", b.ID, err)
	}
	if len(risk) > 0 {
		b.Risk = &models.RiskParams{}
		if err := json.Unmarshal(risk, b.Risk); err != nil {
			return nil, fmt.Errorf("bot %s risk: %w", b.ID, err)
		}
	}
	if len(runtime) > 0 {
		if err := json.Unmarshal(runtime, &b.Runtime); err != nil {
			return nil, fmt.Errorf("bot %s runtime state: %w", b.ID, err)
		}
	}
	return &b, nil
}

func collectBots(rows rowsIter) ([]models.Bot, error) {
	var out []models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
