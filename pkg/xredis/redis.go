package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"tickflow.com/pkg/metrics"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func NewRedis(c *Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	// fail fast at startup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}

// ReportPoolStats publishes go-redis pool stats until ctx is done.
func ReportPoolStats(ctx context.Context, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := rdb.PoolStats()
			metrics.RedisPool.WithLabelValues("open").Set(float64(st.TotalConns))
			metrics.RedisPool.WithLabelValues("idle").Set(float64(st.IdleConns))
			metrics.RedisPool.WithLabelValues("inuse").Set(float64(st.TotalConns - st.IdleConns))
			metrics.RedisPoolWaitCount.Set(float64(st.WaitCount))
			metrics.RedisPoolWaitSeconds.Set(float64(st.WaitDurationNs) / 1e9)
		}
	}
}
