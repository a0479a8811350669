package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// MemoryBotStore keeps bots in-memory. Every read and write copies, so callers never
// share state with the store.
type MemoryBotStore struct {
	mu   sync.RWMutex
	bots map[string]*models.Bot
}

func NewMemoryBotStore() *MemoryBotStore {
	return &MemoryBotStore{bots: make(map[string]*models.Bot)}
}

func (s *MemoryBotStore) Create(_ context.Context, b *models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[b.ID]; ok {
		return fmt.Errorf("bot %s already exists", b.ID)
	}
	s.bots[b.ID] = b.Clone()
	return nil
}

func (s *MemoryBotStore) Get(_ context.Context, id string) (*models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryBotStore) Save(_ context.Context, b *models.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[b.ID]; !ok {
		return ErrNotFound
	}
	s.bots[b.ID] = b.Clone()
	return nil
}

func (s *MemoryBotStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[id]; !ok {
		return ErrNotFound
	}
	delete(s.bots, id)
	return nil
}

func (s *MemoryBotStore) ListByOwner(_ context.Context, ownerID string) ([]models.Bot, error) {
	return s.list(func(b *models.Bot) bool { return b.OwnerID == ownerID }, true), nil
}

func (s *MemoryBotStore) ListRunning(_ context.Context) ([]models.Bot, error) {
	return s.list(func(b *models.Bot) bool { return b.Status == models.StatusRunning }, false), nil
}

func (s *MemoryBotStore) list(keep func(*models.Bot) bool, newestFirst bool) []models.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]models.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		if keep(b) {
			items = append(items, *b.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		if newestFirst {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// MemoryDecisionLog keeps entries in append order.
type MemoryDecisionLog struct {
	mu      sync.RWMutex
	entries []models.DecisionLogEntry
	ids     map[string]bool
}

func NewMemoryDecisionLog() *MemoryDecisionLog {
	return &MemoryDecisionLog{ids: make(map[string]bool)}
}

func (l *MemoryDecisionLog) Append(_ context.Context, e *models.DecisionLogEntry) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.LogID == "" {
		e.LogID = uuid.NewString()
	}
	if l.ids[e.LogID] {
		return e.LogID, nil
	}
	cp := *e
	cp.Evidence = append([]models.Evidence(nil), e.Evidence...)
	l.entries = append(l.entries, cp)
	l.ids[e.LogID] = true
	return e.LogID, nil
}

// Query returns entries newest first; entries with equal timestamps keep reverse append order.
func (l *MemoryDecisionLog) Query(_ context.Context, f models.DecisionFilter) ([]models.DecisionLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	limit := clampLimit(f.Limit)
	text := strings.ToLower(f.Text)

	matched := make([]models.DecisionLogEntry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		switch {
		case f.OwnerID != "" && e.OwnerID != f.OwnerID,
			f.BotID != "" && e.BotID != f.BotID,
			f.Side != "" && e.Side != f.Side,
			f.Outcome != "" && e.Outcome != f.Outcome,
			f.From != nil && e.Timestamp.Before(*f.From),
			f.To != nil && e.Timestamp.After(*f.To),
			text != "" && !strings.Contains(strings.ToLower(e.TriggerReason), text) &&
				!strings.Contains(strings.ToLower(e.Pair), text):
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len is the number of stored entries.
func (l *MemoryDecisionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
