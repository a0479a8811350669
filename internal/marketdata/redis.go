package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kjannette/trahn-botengine/internal/models"
)

// RedisConfig captures connection options for the snapshot store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	cfg := c
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	return cfg
}

// NewRedisClient builds a go-redis client using the provided config.
func NewRedisClient(cfg RedisConfig) *goredis.Client {
	cfg = cfg.withDefaults()
	return goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// HashReader is the slice of the redis client RedisSource needs.
type HashReader interface {
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

// RedisSource reads snapshots written by the indicator feed into hashes keyed
// "snapshot:{PAIR}". Fields: price, ts (unix millis) and one field per indicator
// named like models.IndicatorKey, e.g. "RSI:1h" or "MACD:4h:signal".
type RedisSource struct {
	client HashReader
	maxAge time.Duration
	now    func() time.Time
}

func NewRedisSource(client HashReader, maxAge time.Duration) *RedisSource {
	return &RedisSource{client: client, maxAge: maxAge, now: time.Now}
}

func SnapshotKey(pair string) string {
	return "snapshot:" + normalizePair(pair)
}

func (r *RedisSource) Snapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, SnapshotKey(pair)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return models.MarketSnapshot{}, ErrDataUnavailable
		}
		return models.MarketSnapshot{}, fmt.Errorf("read snapshot %s: %w", pair, err)
	}
	if len(fields) == 0 {
		return models.MarketSnapshot{}, ErrDataUnavailable
	}
	return r.parse(pair, fields)
}

func (r *RedisSource) parse(pair string, fields map[string]string) (models.MarketSnapshot, error) {
	snap := models.MarketSnapshot{Pair: normalizePair(pair), Indicators: make(map[string]float64)}

	price, err := strconv.ParseFloat(fields["price"], 64)
	if err != nil || price <= 0 {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s has no valid price", ErrDataUnavailable, pair)
	}
	snap.Price = price

	ms, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s has no timestamp", ErrDataUnavailable, pair)
	}
	snap.At = time.UnixMilli(ms).UTC()
	if r.maxAge > 0 && r.now().Sub(snap.At) > r.maxAge {
		return models.MarketSnapshot{}, fmt.Errorf("%w: %s snapshot is %s old", ErrDataUnavailable, pair,
			r.now().Sub(snap.At).Truncate(time.Second))
	}

	for k, raw := range fields {
		if k == "price" || k == "ts" || !strings.Contains(k, ":") {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			// an unparseable indicator reads as missing
			continue
		}
		parts := strings.SplitN(k, ":", 3)
		output := ""
		if len(parts) == 3 {
			output = parts[2]
		}
		snap.Indicators[models.IndicatorKey(parts[0], parts[1], output)] = v
	}
	return snap, nil
}
