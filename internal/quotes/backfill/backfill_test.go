package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage/memstore"
)

var now = time.Date(2025, 8, 11, 20, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// scripted answers: one entry per FetchRange call; a zero status means 200
// with the given candles.
type step struct {
	status  int
	candles datasource.Candles
	err     error
}

type fakeHistory struct {
	mu      sync.Mutex
	steps   []step
	windows [][2]time.Time
	prePost *bool
}

func (f *fakeHistory) Name() string { return "fake" }

func (f *fakeHistory) FetchRange(_ context.Context, _ string, _ model.Resolution, start, end time.Time) (datasource.Candles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]time.Time{start, end})
	if len(f.steps) == 0 {
		return datasource.Candles{}, nil
	}
	st := f.steps[0]
	f.steps = f.steps[1:]
	if st.err != nil {
		return datasource.Candles{}, st.err
	}
	if st.status != 0 {
		return datasource.Candles{}, &datasource.StatusError{Status: st.status, Body: "upstream says no"}
	}
	return st.candles, nil
}

type prePostHistory struct{ *fakeHistory }

func (p prePostHistory) WithPrePost(on bool) datasource.HistorySource {
	p.prePost = &on
	return p.fakeHistory
}

type sleepRec struct{ delays []time.Duration }

func (s *sleepRec) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newSvc(src datasource.HistorySource) (*Service, *memstore.Store, *sleepRec) {
	store := memstore.New()
	svc := NewService(src, store)
	rec := &sleepRec{}
	svc.Sleep = rec.sleep
	svc.Jitter = func() float64 { return 0.5 }
	svc.SetPause(0)
	svc.now = func() time.Time { return now }
	return svc, store, rec
}

func oneBar(ts time.Time) datasource.Candles {
	return datasource.Candles{
		Ts:    []int64{ts.Unix()},
		Open:  []*float64{f(10)},
		High:  []*float64{f(15)},
		Low:   []*float64{f(8)},
		Close: []*float64{f(12)},
	}
}

func TestBackfill_RetriesTransientThenSucceeds(t *testing.T) {
	day := now.Add(-24 * time.Hour).Truncate(24 * time.Hour)
	src := &fakeHistory{steps: []step{{status: 429}, {status: 429}, {candles: oneBar(day)}}}
	svc, store, rec := newSvc(src)

	sum, err := svc.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 30})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{
		time.Second + 250*time.Millisecond,
		2*time.Second + 250*time.Millisecond,
	}, rec.delays)
	assert.Len(t, src.windows, 3, "same chunk requested three times")
	assert.Equal(t, src.windows[0], src.windows[2])

	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Chunks)
	assert.Equal(t, 180, sum.ChunkDays)
	assert.Equal(t, "1d", sum.Interval)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, day, sum.CoveredFrom)
}

func TestBackfill_PermanentErrorAbortsWithoutRetry(t *testing.T) {
	src := &fakeHistory{steps: []step{{status: 403}}}
	svc, store, rec := newSvc(src)

	_, err := svc.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 30})
	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 403, ce.Status)
	assert.False(t, ce.Exhausted)
	assert.Equal(t, 1, ce.Attempts)
	assert.Equal(t, now.Add(-30*24*time.Hour), ce.Start)
	assert.Equal(t, now, ce.End)
	assert.Contains(t, err.Error(), "[")

	assert.Empty(t, rec.delays)
	assert.Len(t, src.windows, 1)
	assert.Equal(t, 0, store.Len())
}

func TestBackfill_ExhaustedRetries(t *testing.T) {
	src := &fakeHistory{steps: []step{{status: 503}, {status: 503}, {status: 502}, {status: 504}, {status: 429}}}
	svc, _, rec := newSvc(src)

	_, err := svc.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 1})
	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Exhausted)
	assert.Equal(t, 429, ce.Status)
	assert.Equal(t, MaxAttempts, ce.Attempts)
	assert.Len(t, rec.delays, MaxAttempts-1)
	assert.Equal(t, 8*time.Second+250*time.Millisecond, rec.delays[3])
}

func TestBackfill_ChunksWalkBackwards(t *testing.T) {
	src := &fakeHistory{}
	svc, _, _ := newSvc(src)

	sum, err := svc.Backfill(context.Background(), Request{Symbol: "QQQ", Resolution: model.Resolution(5), Days: 12})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Chunks)
	assert.Equal(t, 5, sum.ChunkDays)
	assert.Equal(t, 0, sum.Inserted)
	assert.True(t, sum.CoveredFrom.IsZero())

	day := 24 * time.Hour
	want := [][2]time.Time{
		{now.Add(-5 * day), now},
		{now.Add(-10 * day), now.Add(-5 * day)},
		{now.Add(-12 * day), now.Add(-10 * day)},
	}
	assert.Equal(t, want, src.windows)
}

func TestBackfill_SynthModeAndMissingClose(t *testing.T) {
	start := time.Date(2025, 8, 11, 14, 31, 0, 0, time.UTC)
	c := datasource.Candles{
		Ts:    []int64{start.Unix(), start.Add(time.Minute).Unix()},
		Open:  []*float64{f(10), f(1)},
		High:  []*float64{f(15), f(1)},
		Low:   []*float64{f(8), f(1)},
		Close: []*float64{f(12), nil},
	}
	src := &fakeHistory{steps: []step{{candles: c}}}
	svc, store, _ := newSvc(src)

	sum, err := svc.Backfill(context.Background(), Request{Symbol: "QQQ", Resolution: model.Minute, Days: 1, Mode: ModeSynth})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Bars)
	assert.Equal(t, 4, sum.Inserted)

	ticks, err := store.QueryRange(context.Background(), "QQQ", start, start.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ticks, 4)
	assert.Equal(t, []float64{10, 8, 15, 12}, []float64{ticks[0].Price, ticks[1].Price, ticks[2].Price, ticks[3].Price})
	assert.Equal(t, start.Add(45*time.Second), sum.CoveredTo)
}

func TestBackfill_StoreFailureSurfaces(t *testing.T) {
	src := &fakeHistory{steps: []step{{candles: oneBar(now.Add(-time.Hour))}}}
	svc, store, _ := newSvc(src)
	store.SetErr(errors.New("disk full"))

	_, err := svc.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 1})
	require.Error(t, err)
	var ce *ChunkError
	assert.False(t, errors.As(err, &ce), "store failures are not upstream failures")
}

func TestBackfill_PassesPrePost(t *testing.T) {
	inner := &fakeHistory{}
	svc, _, _ := newSvc(prePostHistory{inner})

	_, err := svc.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Minute, Days: 1, IncludePrePost: true})
	require.NoError(t, err)
	require.NotNil(t, inner.prePost)
	assert.True(t, *inner.prePost)
}

func TestBackfill_BadRequest(t *testing.T) {
	svc, _, _ := newSvc(&fakeHistory{})
	ctx := context.Background()

	for _, req := range []Request{
		{Symbol: "", Resolution: model.Daily, Days: 1},
		{Symbol: "SPY", Resolution: 0, Days: 1},
		{Symbol: "SPY", Resolution: model.Daily, Days: 0},
		{Symbol: "SPY", Resolution: model.Daily, Days: 1, Mode: "ohlc"},
	} {
		_, err := svc.Backfill(ctx, req)
		assert.ErrorIs(t, err, ErrBadRequest, "%+v", req)
	}
}

func TestBackfill_CancelledDuringBackoff(t *testing.T) {
	src := &fakeHistory{steps: []step{{status: 503}}}
	svc, _, _ := newSvc(src)
	svc.Sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Backfill(ctx, Request{Symbol: "SPY", Resolution: model.Daily, Days: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, 0))
	assert.Equal(t, 4*time.Second, Backoff(2, 0))
	assert.Equal(t, 8*time.Second, Backoff(10, 0))
	assert.Less(t, Backoff(0, 0.999), time.Second+MaxJitter)
}

func TestBackfill_SharedPacerSpacesSameUpstream(t *testing.T) {
	pacer := NewPacer(time.Hour)
	a, _, _ := newSvc(&fakeHistory{})
	b, _, _ := newSvc(&fakeHistory{})
	a.SetPacer(pacer)
	b.SetPacer(pacer)

	_, err := a.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 1})
	require.NoError(t, err)

	// same source name: the next request would have to wait an hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Backfill(ctx, Request{Symbol: "QQQ", Resolution: model.Daily, Days: 1})
	require.Error(t, err)

	other := &renamedHistory{fakeHistory: &fakeHistory{}, name: "other"}
	c, _, _ := newSvc(other)
	c.SetPacer(pacer)
	_, err = c.Backfill(context.Background(), Request{Symbol: "SPY", Resolution: model.Daily, Days: 1})
	assert.NoError(t, err, "a different upstream has its own budget")
}

type renamedHistory struct {
	*fakeHistory
	name string
}

func (r *renamedHistory) Name() string { return r.name }
