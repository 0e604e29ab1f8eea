package storage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/pkg/logger"
)

// TickStore is the durable, append-only tick log shared by every ingest path.
// QueryRange returns the ticks of one symbol with start <= ts <= end in
// ascending ts order. Implementations own their own synchronization.
type TickStore interface {
	Append(ctx context.Context, t model.Tick) error
	AppendBatch(ctx context.Context, ticks []model.Tick) error
	QueryRange(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error)
}

// Filter selects ticks for listing. Zero values mean "unbounded".
type Filter struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Limit  int
	// Page is 1-based; 0 and 1 both mean the newest Limit ticks.
	Page int
}

// Offset is the number of ticks skipped before the requested page.
func (f Filter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * ClampLimit(f.Limit)
}

// Lister lists ticks newest first.
type Lister interface {
	List(ctx context.Context, f Filter) ([]model.Tick, error)
}

var ErrNotSupported = errors.New("storage: operation not supported")

// Health describes the backing database for /health/db.
type Health struct {
	Version     string `json:"db_version"`
	TimescaleDB bool   `json:"timescaledb_enabled"`
}

type HealthChecker interface {
	Health(ctx context.Context) (Health, error)
}

// Wrapper is implemented by decorators around another store.
type Wrapper interface {
	Unwrap() TickStore
}

// Find walks the Unwrap chain starting at s and returns the first store
// implementing T.
func Find[T any](s TickStore) (T, bool) {
	for s != nil {
		if v, ok := s.(T); ok {
			return v, true
		}
		w, ok := s.(Wrapper)
		if !ok {
			break
		}
		s = w.Unwrap()
	}
	var zero T
	return zero, false
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 10000
)

// ClampLimit maps a requested limit onto 1..MaxListLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

// Tee writes to a primary store and mirrors successful writes to secondaries.
// Only the primary's result is returned; mirror failures are logged.
type Tee struct {
	primary TickStore
	mirrors []TickStore
}

func NewTee(primary TickStore, mirrors ...TickStore) *Tee {
	return &Tee{primary: primary, mirrors: mirrors}
}

func (t *Tee) Append(ctx context.Context, tk model.Tick) error {
	if err := t.primary.Append(ctx, tk); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Append(ctx, tk); err != nil {
			logger.Warn(ctx, "mirror append failed", zap.String("symbol", tk.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (t *Tee) AppendBatch(ctx context.Context, ticks []model.Tick) error {
	if err := t.primary.AppendBatch(ctx, ticks); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.AppendBatch(ctx, ticks); err != nil {
			logger.Warn(ctx, "mirror batch append failed", zap.Int("n", len(ticks)), zap.Error(err))
		}
	}
	return nil
}

func (t *Tee) QueryRange(ctx context.Context, symbol string, start, end time.Time) ([]model.Tick, error) {
	return t.primary.QueryRange(ctx, symbol, start, end)
}

func (t *Tee) List(ctx context.Context, f Filter) ([]model.Tick, error) {
	if l, ok := t.primary.(Lister); ok {
		return l.List(ctx, f)
	}
	return nil, ErrNotSupported
}

// Unwrap exposes the primary so callers can reach optional capabilities
// such as health checks.
func (t *Tee) Unwrap() TickStore { return t.primary }
