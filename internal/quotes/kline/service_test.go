package kline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeReader struct {
	ticks      []Tick
	err        error
	start, end time.Time
}

func (f *fakeReader) QueryRange(_ context.Context, _ string, start, end time.Time) ([]Tick, error) {
	f.start, f.end = start, end
	return f.ticks, f.err
}

func TestService_Bars(t *testing.T) {
	now := time.Date(2025, 8, 11, 15, 0, 0, 0, time.UTC)
	r := &fakeReader{ticks: []Tick{
		{Ts: now.Add(-10 * time.Minute), Symbol: "SPY", Price: 1},
		{Ts: now.Add(-9*time.Minute - 30*time.Second), Symbol: "SPY", Price: 3},
		{Ts: now.Add(-2 * time.Minute), Symbol: "SPY", Price: 2},
	}}
	svc := NewService(r)
	svc.now = func() time.Time { return now }

	bars, err := svc.Bars(context.Background(), "SPY", Resolution(5), 30*time.Minute)
	if err != nil {
		t.Fatalf("Bars err=%v", err)
	}
	if !r.start.Equal(now.Add(-30*time.Minute)) || !r.end.Equal(now) {
		t.Fatalf("window [%v,%v]", r.start, r.end)
	}
	if len(bars) != 2 {
		t.Fatalf("want 2 bars got=%d", len(bars))
	}
	if bars[0].Open != 1 || bars[0].Close != 3 || bars[1].Close != 2 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestService_Bars_Errors(t *testing.T) {
	svc := NewService(&fakeReader{err: errors.New("db down")})

	if _, err := svc.Bars(context.Background(), "SPY", Minute, 30*time.Second); !errors.Is(err, ErrBadLookback) {
		t.Fatalf("want ErrBadLookback, got %v", err)
	}
	if _, err := svc.Bars(context.Background(), "SPY", Minute, time.Hour); err == nil {
		t.Fatalf("store error must surface")
	}
}
