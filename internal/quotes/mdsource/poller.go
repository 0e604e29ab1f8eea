package mdsource

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/ratelimit"
)

type PollState int32

const (
	PollIdle PollState = iota
	PollFetching
	PollWriting
	PollPublishing
	PollSleeping
)

func (s PollState) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollFetching:
		return "fetching"
	case PollWriting:
		return "writing"
	case PollPublishing:
		return "publishing"
	case PollSleeping:
		return "sleeping"
	}
	return fmt.Sprintf("PollState(%d)", int32(s))
}

const DefaultPollInterval = 5 * time.Second

// Poller fetches the latest quote of every symbol once per interval, stores
// what it got and publishes the cycle's ticks as one frame.
type Poller struct {
	src      datasource.QuoteSource
	emit     emitter
	symbols  func() []Symbol
	breakers *ratelimit.Manager

	Interval time.Duration
	now      func() time.Time
	state    atomic.Int32
}

// NewPoller reads symbols on every cycle, so a hot-reloaded list takes effect
// on the next one.
func NewPoller(src datasource.QuoteSource, store storage.TickStore, pub Publisher, symbols func() []Symbol) *Poller {
	br := ratelimit.NewManager("poller", ratelimit.Rule{
		TripConsecutiveFailures: 5,
		Timeout:                 30 * time.Second,
	}, nil)
	// only overload and network trouble trip the breaker; a 403 or an empty
	// quote says nothing about upstream health
	br.IsSuccessful = func(err error) bool { return !datasource.IsTransient(err) }
	return &Poller{
		src:      src,
		emit:     emitter{source: "poll", store: store, pub: pub},
		symbols:  symbols,
		breakers: br,
		Interval: DefaultPollInterval,
		now:      time.Now,
	}
}

func (p *Poller) State() PollState { return PollState(p.state.Load()) }

func (p *Poller) set(s PollState) { p.state.Store(int32(s)) }

// Run cycles until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	logger.Info(ctx, "poller started", zap.String("source", p.src.Name()), zap.Duration("interval", p.Interval))
	for {
		p.cycle(ctx)

		p.set(PollSleeping)
		t := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			p.set(PollIdle)
			return ctx.Err()
		case <-t.C:
		}
		p.set(PollIdle)
	}
}

// cycle is RunOnce with panics turned into a log line, so one bad cycle does
// not end the loop.
func (p *Poller) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IngestErrors.WithLabelValues("poll", "panic").Inc()
			logger.Error(ctx, "poll cycle panic",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	p.RunOnce(ctx)
}

// RunOnce performs one fetch/write/publish cycle and returns the ticks it
// stored.
func (p *Poller) RunOnce(ctx context.Context) []model.Tick {
	syms := p.symbols()
	batch := make([]model.Tick, 0, len(syms))

	for _, sym := range syms {
		if ctx.Err() != nil {
			break
		}
		p.set(PollFetching)
		q, err := p.fetch(ctx, sym.API)
		if err != nil {
			metrics.IngestErrors.WithLabelValues("poll", "fetch").Inc()
			logger.Warn(ctx, "quote skipped", zap.String("symbol", sym.API), zap.Error(err))
			continue
		}

		p.set(PollWriting)
		t := model.Tick{
			Ts:     model.NormalizeTs(q.Ts, q.HasTs, p.now()),
			Symbol: sym.StoreName(),
			Price:  q.Price,
		}
		if p.emit.write(ctx, t) {
			batch = append(batch, t)
		}
	}

	p.set(PollPublishing)
	p.emit.publish(ctx, batch)
	return batch
}

func (p *Poller) fetch(ctx context.Context, symbol string) (datasource.Quote, error) {
	var q datasource.Quote
	err := p.breakers.Do(symbol, func() error {
		var err error
		q, err = p.src.FetchLatest(ctx, symbol)
		return err
	})
	if err == nil && q.Price == 0 {
		err = datasource.ErrNoPrice
	}
	return q, err
}
