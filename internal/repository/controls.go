package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/trahn-botengine/internal/risk"
)

// ControlsStore persists the process-wide controls so an emergency stop outlives a restart.
type ControlsStore interface {
	LoadControls(ctx context.Context) (risk.Controls, error)
	SaveControls(ctx context.Context, c risk.Controls) error
}

// ControlsRepo keeps the controls in the single-row controls table.
type ControlsRepo struct {
	pool *pgxpool.Pool
}

func NewControlsRepo(pool *pgxpool.Pool) *ControlsRepo {
	return &ControlsRepo{pool: pool}
}

func (r *ControlsRepo) LoadControls(ctx context.Context) (risk.Controls, error) {
	var c risk.Controls
	err := r.pool.QueryRow(ctx,
		`SELECT emergency_stop, reason, activated_at FROM controls WHERE id = 1`,
	).Scan(&c.EmergencyStop, &c.Reason, &c.Since)
	if err != nil {
		if isNoRows(err) {
			return risk.Controls{}, nil
		}
		return risk.Controls{}, fmt.Errorf("load controls: %w", err)
	}
	return c, nil
}

func (r *ControlsRepo) SaveControls(ctx context.Context, c risk.Controls) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO controls (id, emergency_stop, reason, activated_at, updated_at)
		 VALUES (1, $1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   emergency_stop = EXCLUDED.emergency_stop,
		   reason = EXCLUDED.reason,
		   activated_at = EXCLUDED.activated_at,
		   updated_at = EXCLUDED.updated_at`,
		c.EmergencyStop, c.Reason, c.Since,
	)
	if err != nil {
		return fmt.Errorf("save controls: %w", err)
	}
	return nil
}

// MemoryControlsStore is the in-memory ControlsStore.
type MemoryControlsStore struct {
	mu sync.Mutex
	c  risk.Controls
}

func NewMemoryControlsStore() *MemoryControlsStore {
	return &MemoryControlsStore{}
}

func (s *MemoryControlsStore) LoadControls(context.Context) (risk.Controls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyControls(s.c), nil
}

func (s *MemoryControlsStore) SaveControls(_ context.Context, c risk.Controls) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = copyControls(c)
	return nil
}

func copyControls(c risk.Controls) risk.Controls {
	if c.Since != nil {
		since := *c.Since
		c.Since = &since
	}
	return c
}
