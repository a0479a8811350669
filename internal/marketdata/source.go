package marketdata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// ErrDataUnavailable means no usable snapshot exists for the pair right now.
// Callers treat it as a quiet tick, not a bot failure.
var ErrDataUnavailable = errors.New("market data unavailable")

// Source provides the latest snapshot for a pair.
type Source interface {
	Snapshot(ctx context.Context, pair string) (models.MarketSnapshot, error)
}

// StaticSource serves snapshots set in memory. Used by tests and local runs.
type StaticSource struct {
	mu    sync.RWMutex
	snaps map[string]models.MarketSnapshot
	errs  map[string]error
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		snaps: make(map[string]models.MarketSnapshot),
		errs:  make(map[string]error),
	}
}

// Set replaces the snapshot for snap.Pair and clears any injected error.
func (s *StaticSource) Set(snap models.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizePair(snap.Pair)
	s.snaps[key] = snap
	delete(s.errs, key)
}

// SetPrice is Set with no indicators.
func (s *StaticSource) SetPrice(pair string, price float64, at time.Time) {
	s.Set(models.MarketSnapshot{Pair: pair, Price: price, At: at})
}

// Fail makes the next Snapshot calls for pair return err.
func (s *StaticSource) Fail(pair string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[normalizePair(pair)] = err
}

func (s *StaticSource) Snapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := normalizePair(pair)
	if err := s.errs[key]; err != nil {
		return models.MarketSnapshot{}, err
	}
	snap, ok := s.snaps[key]
	if !ok {
		return models.MarketSnapshot{}, ErrDataUnavailable
	}
	out := snap
	out.Indicators = make(map[string]float64, len(snap.Indicators))
	for k, v := range snap.Indicators {
		out.Indicators[k] = v
	}
	return out, nil
}

// normalizePair maps "btc/usdt" and "BTC-USDT" to "BTC/USDT".
func normalizePair(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "-", "/"))
}
