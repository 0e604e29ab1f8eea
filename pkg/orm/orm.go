package orm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"tickflow.com/pkg/metrics"
)

type Config struct {
	Type        string `mapstructure:"type"` // postgres | mysql | sqlite
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"` // seconds
	LogLevel    string `mapstructure:"log_level"`    // silent | error | warn | info
}

// Open connects with the driver named by c.Type and sizes the pool. The pool is
// the only place connections are created; callers share the returned *gorm.DB.
func Open(c *Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(c)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(c.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return db, nil
}

func dialectorFor(c *Config) (gorm.Dialector, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("orm: empty dsn")
	}
	switch strings.ToLower(c.Type) {
	case "", "postgres", "postgresql", "timescale":
		return postgres.Open(c.DSN), nil
	case "mysql":
		return mysql.Open(c.DSN), nil
	case "sqlite":
		return sqlite.Open(c.DSN), nil
	default:
		return nil, fmt.Errorf("orm: unsupported db type %q", c.Type)
	}
}

func logLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// ReportPoolStats publishes database/sql pool stats until ctx is done.
func ReportPoolStats(ctx context.Context, db *sql.DB, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	var lastWait int64
	var lastWaitDur time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := db.Stats()
			metrics.DbPool.WithLabelValues("open").Set(float64(st.OpenConnections))
			metrics.DbPool.WithLabelValues("idle").Set(float64(st.Idle))
			metrics.DbPool.WithLabelValues("inuse").Set(float64(st.InUse))
			// Stats are cumulative; counters only take the delta.
			metrics.DbPoolWaitCount.Add(float64(st.WaitCount - lastWait))
			metrics.DbPoolWaitSeconds.Add((st.WaitDuration - lastWaitDur).Seconds())
			lastWait, lastWaitDur = st.WaitCount, st.WaitDuration
		}
	}
}
