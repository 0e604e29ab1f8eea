// Package rediscache keeps the latest tick per symbol in Redis, in front of a
// TickStore.
package rediscache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
)

const (
	DefaultKey = "quotes:latest"
	tsSuffix   = ":ts"
)

// KEYS[1] latest payload hash, KEYS[2] latest ts hash
// ARGV[1] symbol, ARGV[2] ts millis, ARGV[3] payload
var setIfNewer = redis.NewScript(`
local cur = redis.call("HGET", KEYS[2], ARGV[1])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return 1`)

// Cache decorates a TickStore. Writes go to the inner store first; once they
// succeed the per-symbol latest tick is updated. An older tick (e.g. from a
// backfill) never replaces a newer one. Cache errors are logged, not returned.
type Cache struct {
	storage.TickStore
	rdb *redis.Client
	key string
}

func New(inner storage.TickStore, rdb *redis.Client, key string) *Cache {
	if key == "" {
		key = DefaultKey
	}
	return &Cache{TickStore: inner, rdb: rdb, key: key}
}

func (c *Cache) Append(ctx context.Context, t model.Tick) error {
	if err := c.TickStore.Append(ctx, t); err != nil {
		return err
	}
	c.remember(ctx, []model.Tick{t})
	return nil
}

func (c *Cache) AppendBatch(ctx context.Context, ticks []model.Tick) error {
	if err := c.TickStore.AppendBatch(ctx, ticks); err != nil {
		return err
	}
	c.remember(ctx, newestPerSymbol(ticks))
	return nil
}

func (c *Cache) List(ctx context.Context, f storage.Filter) ([]model.Tick, error) {
	if l, ok := c.TickStore.(storage.Lister); ok {
		return l.List(ctx, f)
	}
	return nil, storage.ErrNotSupported
}

func (c *Cache) Unwrap() storage.TickStore { return c.TickStore }

func (c *Cache) remember(ctx context.Context, ticks []model.Tick) {
	for _, t := range ticks {
		start := time.Now()
		err := c.set(ctx, t)
		status := "ok"
		if err != nil {
			status = "error"
			metrics.RedisErrors.WithLabelValues("set_latest").Inc()
			logger.Warn(ctx, "cache latest tick failed", zap.String("symbol", t.Symbol), zap.Error(err))
		}
		metrics.RedisCmdDuration.WithLabelValues("set_latest", status).Observe(time.Since(start).Seconds())
	}
}

func (c *Cache) set(ctx context.Context, t model.Tick) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ms := strconv.FormatInt(t.Ts.UnixMilli(), 10)
	return setIfNewer.Run(ctx, c.rdb, []string{c.key, c.key + tsSuffix}, t.Symbol, ms, payload).Err()
}

// Latest returns the newest cached tick of every symbol, sorted by symbol.
func (c *Cache) Latest(ctx context.Context) ([]model.Tick, error) {
	m, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", c.key, err)
	}
	out := make([]model.Tick, 0, len(m))
	for sym, raw := range m {
		var t model.Tick
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			logger.Debug(ctx, "skip bad cache entry", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		t.Ts = t.Ts.UTC()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func newestPerSymbol(ticks []model.Tick) []model.Tick {
	idx := make(map[string]int, 4)
	var out []model.Tick
	for _, t := range ticks {
		i, ok := idx[t.Symbol]
		if !ok {
			idx[t.Symbol] = len(out)
			out = append(out, t)
			continue
		}
		if !t.Ts.Before(out[i].Ts) {
			out[i] = t
		}
	}
	return out
}
