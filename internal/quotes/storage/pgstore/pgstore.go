// Package pgstore keeps ticks in the "prices" table through gorm. Postgres
// (optionally with TimescaleDB) is the primary target; MySQL and SQLite get
// equivalent hand-written schemas.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/orm"
)

const batchSize = 500

type Store struct {
	db *gorm.DB
}

var _ storage.TickStore = (*Store)(nil)
var _ storage.Lister = (*Store)(nil)
var _ storage.HealthChecker = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the table if missing. On Postgres with the timescaledb
// extension installed the table is also turned into a hypertable; failure
// there is logged and ignored.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	switch db.Dialector.Name() {
	case "mysql":
		return db.Exec(`CREATE TABLE IF NOT EXISTS prices (
			ts DATETIME(6) NOT NULL,
			symbol VARCHAR(64) NOT NULL,
			price DOUBLE NOT NULL,
			INDEX idx_prices_symbol_ts (symbol, ts)
		)`).Error
	case "sqlite":
		if err := db.Exec(`CREATE TABLE IF NOT EXISTS prices (
			ts DATETIME NOT NULL,
			symbol TEXT NOT NULL,
			price REAL NOT NULL
		)`).Error; err != nil {
			return fmt.Errorf("migrate prices: %w", err)
		}
		return db.Exec(`CREATE INDEX IF NOT EXISTS idx_prices_symbol_ts ON prices (symbol, ts)`).Error
	}

	if err := db.AutoMigrate(&model.Tick{}); err != nil {
		return fmt.Errorf("migrate prices: %w", err)
	}

	h, err := s.Health(ctx)
	if err != nil || !h.TimescaleDB {
		return nil
	}
	err = db.Exec(`SELECT create_hypertable('prices', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`).Error
	if err != nil {
		logger.Warn(ctx, "create_hypertable failed, continuing with a plain table", zap.Error(err))
	}
	return nil
}

func (s *Store) Append(ctx context.Context, t model.Tick) error {
	start := time.Now()
	t.Ts = t.Ts.UTC()
	err := s.db.WithContext(ctx).Create(&t).Error
	observe("append", start, err)
	if err != nil {
		return fmt.Errorf("insert tick %s: %w", t.Symbol, err)
	}
	return nil
}

func (s *Store) AppendBatch(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	start := time.Now()
	rows := make([]model.Tick, len(ticks))
	for i, t := range ticks {
		t.Ts = t.Ts.UTC()
		rows[i] = t
	}
	err := s.db.WithContext(ctx).CreateInBatches(rows, batchSize).Error
	observe("append_batch", start, err)
	if err != nil {
		return fmt.Errorf("insert %d ticks: %w", len(rows), err)
	}
	return nil
}

func (s *Store) QueryRange(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error) {
	began := time.Now()
	var out []model.Tick
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND ts >= ? AND ts <= ?", symbol, start.UTC(), end.UTC()).
		Order("ts ASC").
		Find(&out).Error
	observe("query_range", began, err)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", symbol, err)
	}
	return utc(out), nil
}

func (s *Store) List(ctx context.Context, f storage.Filter) ([]model.Tick, error) {
	began := time.Now()
	q := s.db.WithContext(ctx).Model(&model.Tick{})
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if !f.Start.IsZero() {
		q = q.Where("ts >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		q = q.Where("ts <= ?", f.End.UTC())
	}

	var out []model.Tick
	page := f.Page
	if page <= 0 {
		page = 1
	}
	err := orm.ApplyPagination(q.Order("ts DESC"), page, storage.ClampLimit(f.Limit)).Find(&out).Error
	observe("list", began, err)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return utc(out), nil
}

func (s *Store) Health(ctx context.Context) (storage.Health, error) {
	var h storage.Health
	db := s.db.WithContext(ctx)
	versionSQL := "SELECT VERSION()"
	if db.Dialector.Name() == "sqlite" {
		versionSQL = "SELECT sqlite_version()"
	}
	if err := db.Raw(versionSQL).Scan(&h.Version).Error; err != nil {
		return h, fmt.Errorf("db version: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return h, nil
	}
	err := db.Raw("SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')").
		Scan(&h.TimescaleDB).Error
	if err != nil {
		return h, fmt.Errorf("check timescaledb: %w", err)
	}
	return h, nil
}

func utc(ts []model.Tick) []model.Tick {
	for i := range ts {
		ts[i].Ts = ts[i].Ts.UTC()
	}
	return ts
}

func observe(query string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DbQueryDuration.WithLabelValues(query, status).Observe(time.Since(start).Seconds())
}
