// Package memstore is an in-process TickStore kept in two ordered B-trees.
// It backs tests and the "memory" store type; nothing survives a restart.
package memstore

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
)

type item struct {
	tick model.Tick
	seq  uint64 // insertion order; keeps duplicates and breaks ts ties
}

func bySymbol(a, b item) bool {
	if a.tick.Symbol != b.tick.Symbol {
		return a.tick.Symbol < b.tick.Symbol
	}
	if !a.tick.Ts.Equal(b.tick.Ts) {
		return a.tick.Ts.Before(b.tick.Ts)
	}
	return a.seq < b.seq
}

func byTime(a, b item) bool {
	if !a.tick.Ts.Equal(b.tick.Ts) {
		return a.tick.Ts.Before(b.tick.Ts)
	}
	return a.seq < b.seq
}

type Store struct {
	mu     sync.RWMutex
	seq    uint64
	sym    *btree.BTreeG[item]
	ts     *btree.BTreeG[item]
	failOn error // injected by tests through SetErr
}

var _ storage.TickStore = (*Store)(nil)
var _ storage.Lister = (*Store)(nil)

func New() *Store {
	opts := btree.Options{NoLocks: true}
	return &Store{
		sym: btree.NewBTreeGOptions(bySymbol, opts),
		ts:  btree.NewBTreeGOptions(byTime, opts),
	}
}

// SetErr makes every subsequent write fail with err (nil restores writes).
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.failOn = err
	s.mu.Unlock()
}

func (s *Store) Append(ctx context.Context, t model.Tick) error {
	return s.AppendBatch(ctx, []model.Tick{t})
}

func (s *Store) AppendBatch(_ context.Context, ticks []model.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		return s.failOn
	}
	for _, t := range ticks {
		s.seq++
		t.Ts = t.Ts.UTC()
		it := item{tick: t, seq: s.seq}
		s.sym.Set(it)
		s.ts.Set(it)
	}
	return nil
}

func (s *Store) QueryRange(_ context.Context, symbol string, start, end time.Time) ([]model.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Tick
	pivot := item{tick: model.Tick{Symbol: symbol, Ts: start}}
	s.sym.Ascend(pivot, func(it item) bool {
		if it.tick.Symbol != symbol || it.tick.Ts.After(end) {
			return false
		}
		out = append(out, it.tick)
		return true
	})
	return out, nil
}

func (s *Store) List(_ context.Context, f storage.Filter) ([]model.Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := storage.ClampLimit(f.Limit)
	skip := f.Offset()
	out := make([]model.Tick, 0, min(limit, s.ts.Len()))
	keep := func(it item) bool {
		if !f.Start.IsZero() && it.tick.Ts.Before(f.Start) {
			return false
		}
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, it.tick)
		return len(out) < limit
	}

	if f.Symbol != "" {
		pivot := item{tick: model.Tick{Symbol: f.Symbol, Ts: endOrMax(f.End)}, seq: math.MaxUint64}
		s.sym.Descend(pivot, func(it item) bool {
			if it.tick.Symbol != f.Symbol {
				return false
			}
			return keep(it)
		})
		return out, nil
	}

	pivot := item{tick: model.Tick{Ts: endOrMax(f.End)}, seq: math.MaxUint64}
	s.ts.Descend(pivot, keep)
	return out, nil
}

// Health reports the in-memory store as its own database.
func (s *Store) Health(context.Context) (storage.Health, error) {
	return storage.Health{Version: "memory"}, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ts.Len()
}

func endOrMax(t time.Time) time.Time {
	if t.IsZero() {
		return time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	return t
}
