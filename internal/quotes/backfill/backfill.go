// Package backfill pulls historical candles in chunks and writes them to the
// tick store, either as one close tick per bar or as four synthetic ticks.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/kline"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/ratelimit"
)

type Mode string

const (
	ModeClose Mode = "close"
	ModeSynth Mode = "synth"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeClose:
		return ModeClose, nil
	case ModeSynth:
		return ModeSynth, nil
	}
	return "", fmt.Errorf("invalid mode %q", s)
}

const (
	IntradayChunkDays = 5
	DailyChunkDays    = 180
	MaxAttempts       = 5
	MaxBackoff        = 8 * time.Second
	MaxJitter         = 500 * time.Millisecond
	DefaultPause      = 250 * time.Millisecond
	MaxDays           = 3650
)

var ErrBadRequest = errors.New("backfill: bad request")

type Request struct {
	Symbol         string
	Resolution     model.Resolution
	Days           int
	Mode           Mode
	IncludePrePost bool
}

type Summary struct {
	Source        string    `json:"source"`
	Symbol        string    `json:"symbol"`
	Resolution    string    `json:"res"`
	Interval      string    `json:"interval"`
	Mode          Mode      `json:"mode"`
	Inserted      int       `json:"inserted"`
	Bars          int       `json:"bars"`
	Chunks        int       `json:"chunks"`
	ChunkDays     int       `json:"chunk_days"`
	DaysRequested int       `json:"days_requested"`
	RequestedFrom time.Time `json:"requested_from"`
	RequestedTo   time.Time `json:"requested_to"`
	CoveredFrom   time.Time `json:"covered_from"`
	CoveredTo     time.Time `json:"covered_to"`
}

// ChunkError is an upstream failure for one chunk. Exhausted marks a
// transient failure that outlived every retry.
type ChunkError struct {
	Status    int
	Body      string
	Start     time.Time
	End       time.Time
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *ChunkError) Error() string {
	what := "failed"
	if e.Exhausted {
		what = "retries exhausted"
	}
	return fmt.Sprintf("backfill chunk [%d,%d] %s after %d attempt(s): %v",
		e.Start.Unix(), e.End.Unix(), what, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// prePoster is implemented by sources that can include extended hours.
type prePoster interface {
	WithPrePost(on bool) datasource.HistorySource
}

type Service struct {
	src   datasource.HistorySource
	store storage.TickStore

	// Sleep is used for retry backoff; Jitter returns a value in [0,1).
	Sleep  Sleeper
	Jitter func() float64
	// pacer spaces chunk requests per upstream; services may share one.
	pacer *ratelimit.Store
	now   func() time.Time
}

func NewService(src datasource.HistorySource, store storage.TickStore) *Service {
	return &Service{
		src:    src,
		store:  store,
		Sleep:  sleepCtx,
		Jitter: rand.Float64,
		pacer:  NewPacer(DefaultPause),
		now:    time.Now,
	}
}

// NewPacer spaces requests to the same upstream by at least d; 0 disables it.
func NewPacer(d time.Duration) *ratelimit.Store {
	if d <= 0 {
		return ratelimit.NewStore(rate.Inf, 1, 0)
	}
	return ratelimit.NewStore(rate.Every(d), 1, 0)
}

// SetPause gives the service its own pacer.
func (s *Service) SetPause(d time.Duration) {
	s.pacer = NewPacer(d)
}

// SetPacer shares p with other services. Requests are keyed by source name,
// so concurrent backfills against one upstream are paced together.
func (s *Service) SetPacer(p *ratelimit.Store) {
	s.pacer = p
}

func ChunkDays(res model.Resolution) int {
	if res.Intraday() {
		return IntradayChunkDays
	}
	return DailyChunkDays
}

// Backoff is the wait before retry number attempt (0-based):
// min(8s, 2^attempt s) plus jitter in [0, 0.5s).
func Backoff(attempt int, jitter float64) time.Duration {
	base := time.Duration(math.Min(float64(MaxBackoff), math.Pow(2, float64(attempt))*float64(time.Second)))
	return base + time.Duration(jitter*float64(MaxJitter))
}

func (s *Service) Name() string { return s.src.Name() }

// Backfill walks [now-days, now] backwards in chunks. Every chunk is stored
// before the next one is requested; on failure the ticks of earlier chunks
// stay in the store.
func (s *Service) Backfill(ctx context.Context, req Request) (Summary, error) {
	if err := validate(&req); err != nil {
		return Summary{}, err
	}

	src := s.src
	if pp, ok := src.(prePoster); ok {
		src = pp.WithPrePost(req.IncludePrePost)
	}

	end := s.now().UTC().Truncate(time.Second)
	from := end.Add(-time.Duration(req.Days) * 24 * time.Hour)
	chunk := time.Duration(ChunkDays(req.Resolution)) * 24 * time.Hour

	sum := Summary{
		Source:        s.src.Name(),
		Symbol:        req.Symbol,
		Resolution:    req.Resolution.String(),
		Interval:      interval(req.Resolution),
		Mode:          req.Mode,
		ChunkDays:     ChunkDays(req.Resolution),
		DaysRequested: req.Days,
		RequestedFrom: from,
		RequestedTo:   end,
	}
	logger.Info(ctx, "backfill started",
		zap.String("source", sum.Source), zap.String("symbol", req.Symbol),
		zap.String("res", sum.Resolution), zap.Int("days", req.Days), zap.String("mode", string(req.Mode)))

	for t2 := end; t2.After(from); {
		t1 := t2.Add(-chunk)
		if t1.Before(from) {
			t1 = from
		}
		if err := s.pacer.Wait(ctx, sum.Source); err != nil {
			return sum, err
		}

		candles, err := s.fetchChunk(ctx, src, req, t1, t2)
		if err != nil {
			metrics.BackfillChunks.WithLabelValues(sum.Source, "failed").Inc()
			return sum, err
		}
		metrics.BackfillChunks.WithLabelValues(sum.Source, "ok").Inc()
		sum.Chunks++

		ticks, bars := toTicks(req, candles)
		if len(ticks) > 0 {
			if err := s.store.AppendBatch(ctx, ticks); err != nil {
				return sum, fmt.Errorf("store chunk [%d,%d]: %w", t1.Unix(), t2.Unix(), err)
			}
			metrics.TicksIngested.WithLabelValues("backfill").Add(float64(len(ticks)))
			sum.cover(ticks)
		}
		sum.Inserted += len(ticks)
		sum.Bars += bars

		t2 = t1
	}

	logger.Info(ctx, "backfill done",
		zap.String("symbol", req.Symbol), zap.Int("inserted", sum.Inserted), zap.Int("chunks", sum.Chunks))
	return sum, nil
}

// fetchChunk retries transient failures with backoff. Anything else aborts
// at once.
func (s *Service) fetchChunk(ctx context.Context, src datasource.HistorySource, req Request, t1, t2 time.Time) (datasource.Candles, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			d := Backoff(attempt-1, s.Jitter())
			metrics.BackfillChunks.WithLabelValues(s.src.Name(), "retry").Inc()
			logger.Warn(ctx, "backfill chunk retry",
				zap.String("symbol", req.Symbol), zap.Int("attempt", attempt+1),
				zap.Duration("backoff", d), zap.Error(lastErr))
			if err := s.Sleep(ctx, d); err != nil {
				return datasource.Candles{}, err
			}
		}

		c, err := src.FetchRange(ctx, req.Symbol, req.Resolution, t1, t2)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return datasource.Candles{}, ctx.Err()
		}
		lastErr = err
		if !datasource.IsTransient(err) {
			return datasource.Candles{}, chunkError(err, t1, t2, attempt+1, false)
		}
	}
	return datasource.Candles{}, chunkError(lastErr, t1, t2, MaxAttempts, true)
}

func chunkError(err error, t1, t2 time.Time, attempts int, exhausted bool) *ChunkError {
	ce := &ChunkError{Start: t1, End: t2, Attempts: attempts, Exhausted: exhausted, Err: err}
	var se *datasource.StatusError
	if errors.As(err, &se) {
		ce.Status, ce.Body = se.Status, se.Body
	}
	return ce
}

func toTicks(req Request, c datasource.Candles) ([]model.Tick, int) {
	ticks := make([]model.Tick, 0, c.Len())
	bars := 0
	for i := 0; i < c.Len(); i++ {
		b, ok := c.Bar(req.Symbol, i)
		if !ok {
			continue
		}
		bars++
		if req.Mode == ModeSynth {
			st := kline.SynthTicks(req.Symbol, b, req.Resolution)
			ticks = append(ticks, st[:]...)
			continue
		}
		ticks = append(ticks, model.Tick{Ts: b.Start, Symbol: req.Symbol, Price: b.Close})
	}
	return ticks, bars
}

func (s *Summary) cover(ticks []model.Tick) {
	for _, t := range ticks {
		if s.CoveredFrom.IsZero() || t.Ts.Before(s.CoveredFrom) {
			s.CoveredFrom = t.Ts
		}
		if t.Ts.After(s.CoveredTo) {
			s.CoveredTo = t.Ts
		}
	}
}

func validate(req *Request) error {
	req.Symbol = strings.TrimSpace(req.Symbol)
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrBadRequest)
	}
	if req.Resolution <= 0 {
		return fmt.Errorf("%w: resolution must be positive", ErrBadRequest)
	}
	if req.Days <= 0 || req.Days > MaxDays {
		return fmt.Errorf("%w: days must be in 1..%d", ErrBadRequest, MaxDays)
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	req.Mode = mode
	return nil
}

func interval(res model.Resolution) string {
	if res.Intraday() {
		return fmt.Sprintf("%dm", int(res))
	}
	return "1d"
}
