package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kjannette/trahn-botengine/internal/models"
)

var ErrNotFound = errors.New("bot not found")

// BotStore is the bot registry.
type BotStore interface {
	Create(ctx context.Context, bot *models.Bot) error
	Get(ctx context.Context, id string) (*models.Bot, error)
	Save(ctx context.Context, bot *models.Bot) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Bot, error)
	ListRunning(ctx context.Context) ([]models.Bot, error)
}

// DecisionLog is append-only; entries are never updated or removed.
type DecisionLog interface {
	Append(ctx context.Context, entry *models.DecisionLogEntry) (string, error)
	Query(ctx context.Context, f models.DecisionFilter) ([]models.DecisionLogEntry, error)
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultQueryLimit
	}
	if n > MaxQueryLimit {
		return MaxQueryLimit
	}
	return n
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
