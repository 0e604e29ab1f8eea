package kline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultLookback matches one regular US session (6.5h).
const DefaultLookback = 390 * time.Minute

var ErrBadLookback = errors.New("lookback must be at least one minute")

// TickReader is the read half of the tick store.
type TickReader interface {
	QueryRange(ctx context.Context, symbol string, start, end time.Time) ([]Tick, error)
}

// Service answers bar queries by reading raw ticks and aggregating them in
// process, so the result does not depend on the store's own windowing.
type Service struct {
	store TickReader
	now   func() time.Time
}

func NewService(store TickReader) *Service {
	return &Service{store: store, now: time.Now}
}

// Bars returns the bars of width res covering [now-lookback, now].
func (s *Service) Bars(ctx context.Context, symbol string, res Resolution, lookback time.Duration) ([]Bar, error) {
	if lookback < time.Minute {
		return nil, ErrBadLookback
	}
	if res <= 0 {
		res = Minute
	}
	end := s.now().UTC()
	ticks, err := s.store.QueryRange(ctx, symbol, end.Add(-lookback), end)
	if err != nil {
		return nil, fmt.Errorf("query ticks %s: %w", symbol, err)
	}
	return Aggregate(symbol, ticks, res), nil
}
