package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickflow.com/internal/quotes/backfill"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/handler"
	qhttp "tickflow.com/internal/quotes/http"
	"tickflow.com/internal/quotes/kline"
	"tickflow.com/internal/quotes/storage/memstore"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/xerr"
)

func init() { gin.SetMode(gin.TestMode) }

type history struct {
	status  int
	candles datasource.Candles
	calls   atomic.Int32
	block   chan struct{}
}

func (h *history) Name() string { return "stub" }

func (h *history) FetchRange(ctx context.Context, _ string, _ model.Resolution, _, _ time.Time) (datasource.Candles, error) {
	h.calls.Add(1)
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return datasource.Candles{}, ctx.Err()
		}
	}
	if h.status != 0 {
		return datasource.Candles{}, &datasource.StatusError{Status: h.status, Body: "denied"}
	}
	return h.candles, nil
}

type latest []model.Tick

func (l latest) Latest(context.Context) ([]model.Tick, error) { return l, nil }

type env struct {
	engine *gin.Engine
	store  *memstore.Store
	yahoo  *history
}

func newEnv(t *testing.T, opt qhttp.Options, lr handler.LatestReader) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memstore.New()
	yahoo := &history{}
	svc := backfill.NewService(yahoo, store)
	svc.SetPause(0)
	svc.Sleep = func(context.Context, time.Duration) error { return nil }

	if opt.Service == "" {
		opt.Service = "quotes-test"
	}
	e := qhttp.NewEngine(ctx, opt, qhttp.Handlers{
		Prices:   handler.NewPrices(store, lr),
		Bars:     &handler.Bars{Svc: kline.NewService(store)},
		Backfill: &handler.Backfill{Yahoo: svc, Guard: handler.LocalGuard()},
		Health:   &handler.Health{Store: store},
	})
	return &env{engine: e, store: store, yahoo: yahoo}
}

func (e *env) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) common.Response {
	t.Helper()
	var r common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

func TestPrices_CreateListAndOHLC(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)
	now := time.Now().UTC().Truncate(time.Minute)

	w := e.do(http.MethodPost, "/prices", `{"symbol":"SPY","price":500.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	bulk := `[
		{"symbol":"QQQ","price":10,"ts":` + jsonNum(now.Add(-3*time.Minute).Unix()) + `},
		{"symbol":"QQQ","price":15,"ts":` + jsonNum(now.Add(-3*time.Minute).Add(10*time.Second).UnixMilli()) + `},
		{"symbol":"QQQ","price":8,"ts":"` + now.Add(-3*time.Minute).Add(20*time.Second).Format(time.RFC3339) + `"},
		{"symbol":"QQQ","price":12,"ts":"` + now.Add(-3*time.Minute).Add(30*time.Second).Format(time.RFC3339) + `"}
	]`
	w = e.do(http.MethodPost, "/prices/bulk", bulk)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 5, e.store.Len())

	w = e.do(http.MethodGet, "/prices?symbol=QQQ&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ticks []model.Tick
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticks))
	require.Len(t, ticks, 2)
	assert.Equal(t, 12.0, ticks[0].Price, "newest first")

	w = e.do(http.MethodGet, "/ohlc?symbol=QQQ&resolution=bogus&lookback_minutes=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var bars []map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bars))
	require.Len(t, bars, 1)
	assert.Equal(t, float64(now.Add(-3*time.Minute).Unix()), bars[0]["time"])
	assert.Equal(t, []float64{10, 15, 8, 12}, []float64{bars[0]["open"], bars[0]["high"], bars[0]["low"], bars[0]["close"]})
}

func jsonNum(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPrices_BadInput(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodPost, "/prices", `{"price":1}`},
		{http.MethodPost, "/prices", `{"symbol":"SPY"}`},
		{http.MethodPost, "/prices", `{"symbol":"SPY","price":1,"ts":"yesterday"}`},
		{http.MethodGet, "/prices?limit=0", ""},
		{http.MethodGet, "/prices?start=nope", ""},
		{http.MethodGet, "/ohlc", ""},
		{http.MethodGet, "/ohlc?symbol=SPY&lookback_minutes=0", ""},
	} {
		w := e.do(tc.method, tc.target, tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%s %s", tc.method, tc.target)
		assert.Equal(t, xerr.RequestParamsError, decodeEnvelope(t, w).Code)
	}
	assert.Equal(t, 0, e.store.Len())
}

func TestPrices_Latest(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)
	w := e.do(http.MethodGet, "/prices/latest", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts := time.Unix(1690000000, 0).UTC()
	e = newEnv(t, qhttp.Options{}, latest{{Ts: ts, Symbol: "SPY", Price: 1}})
	w = e.do(http.MethodGet, "/prices/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"2023-07-22T04:26:40Z"`)
}

func TestBackfillYahoo_UpstreamFailureNamesChunk(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)
	e.yahoo.status = http.StatusForbidden

	w := e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&res=D&days=30", "")
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())

	var body struct {
		Code int `json:"code"`
		Data struct {
			Status   int     `json:"status"`
			Chunk    []int64 `json:"chunk"`
			Attempts int     `json:"attempts"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, xerr.UpstreamError, body.Code)
	assert.Equal(t, http.StatusForbidden, body.Data.Status)
	assert.Equal(t, 1, body.Data.Attempts)
	require.Len(t, body.Data.Chunk, 2)
	assert.Equal(t, int64(30*24*3600), body.Data.Chunk[1]-body.Data.Chunk[0])
	assert.Equal(t, int32(1), e.yahoo.calls.Load())
}

func TestBackfillYahoo_SynthInserts(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)
	day := time.Now().UTC().Add(-48 * time.Hour).Truncate(24 * time.Hour)
	o, h, l, c := 10.0, 15.0, 8.0, 12.0
	e.yahoo.candles = datasource.Candles{
		Ts: []int64{day.Unix()}, Open: []*float64{&o}, High: []*float64{&h}, Low: []*float64{&l}, Close: []*float64{&c},
	}

	w := e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&res=D&days=5&mode=synth", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, float64(4), out["inserted"])
	assert.Equal(t, "1d", out["interval"])
	assert.Equal(t, 4, e.store.Len())
}

func TestBackfill_BadParamsAndMissingToken(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/backfill_yahoo?res=D", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&res=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&mode=ohlc", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&days=0", "").Code)
	assert.Equal(t, int32(0), e.yahoo.calls.Load())

	w := e.do(http.MethodPost, "/backfill?symbol=SPY", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, xerr.NotConfigured, decodeEnvelope(t, w).Code)
}

func TestBackfill_ConcurrentRunsForOneSymbolConflict(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)
	e.yahoo.block = make(chan struct{})

	first := make(chan int)
	go func() {
		first <- e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&days=1", "").Code
	}()

	// the first run holds the guard once it reaches the source
	require.Eventually(t, func() bool { return e.yahoo.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	w := e.do(http.MethodPost, "/backfill_yahoo?symbol=SPY&days=1", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, xerr.Conflict, decodeEnvelope(t, w).Code)

	close(e.yahoo.block)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, qhttp.Options{}, nil)

	w := e.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "message")

	w = e.do(http.MethodGet, "/health/db", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"db_version":"memory","timescaledb_enabled":false}`, w.Body.String())
}

func TestRateLimitAndCORS(t *testing.T) {
	e := newEnv(t, qhttp.Options{
		RPS:         0.001,
		Burst:       1,
		CORSOrigins: []string{"http://localhost:5173"},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w = e.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, xerr.TooManyRequests, decodeEnvelope(t, w).Code)
}
