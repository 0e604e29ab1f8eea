package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
)

const chartBody = `{"chart":{"result":[{"timestamp":[1690000000,1690000060],
"indicators":{"quote":[{"open":[10,null],"high":[15,null],"low":[8,null],"close":[12,null]}]}}],"error":null}}`

func TestInterval(t *testing.T) {
	assert.Equal(t, "1d", Interval(model.Daily))
	assert.Equal(t, "1m", Interval(model.Minute))
	assert.Equal(t, "15m", Interval(model.Resolution(15)))
}

func TestClient_FetchRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/SPY", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "5m", q.Get("interval"))
		assert.Equal(t, "true", q.Get("includePrePost"))
		assert.Equal(t, "history", q.Get("events"))
		assert.Equal(t, "1690000000", q.Get("period1"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chartBody))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	c.BaseURL = srv.URL
	src := c.WithPrePost(true)

	start := time.Unix(1690000000, 0)
	got, err := src.FetchRange(context.Background(), "SPY", model.Resolution(5), start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	b, ok := got.Bar("SPY", 0)
	require.True(t, ok)
	assert.Equal(t, 12.0, b.Close)
	_, ok = got.Bar("SPY", 1)
	assert.False(t, ok, "null close is skipped")

	assert.False(t, c.IncludePrePost, "WithPrePost must not mutate the receiver")
}

func TestClient_FetchRange_EmptyAndErrors(t *testing.T) {
	status := http.StatusOK
	body := `{"chart":{"result":null,"error":{"code":"Not Found"}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	c.BaseURL = srv.URL
	ctx := context.Background()

	got, err := c.FetchRange(ctx, "SPY", model.Daily, time.Unix(0, 0), time.Unix(86400, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	status, body = http.StatusTooManyRequests, "slow down"
	_, err = c.FetchRange(ctx, "SPY", model.Daily, time.Unix(0, 0), time.Unix(86400, 0))
	var se *datasource.StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Transient())
}
