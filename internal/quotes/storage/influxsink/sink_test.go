package influxsink

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"tickflow.com/internal/quotes/datasource/model"
)

func TestPoint(t *testing.T) {
	ts := time.Unix(1690000000, 0).UTC()
	p := Point(model.Tick{Ts: ts, Symbol: "SPY", Price: 501.25})

	assert.Equal(t, "prices", p.Name())
	assert.Equal(t, ts, p.Time())
	if assert.Len(t, p.TagList(), 1) {
		assert.Equal(t, "symbol", p.TagList()[0].Key)
		assert.Equal(t, "SPY", p.TagList()[0].Value)
	}
	if assert.Len(t, p.FieldList(), 1) {
		assert.Equal(t, "price", p.FieldList()[0].Key)
		assert.Equal(t, 501.25, p.FieldList()[0].Value)
	}
}

func TestRangeQuery_StopIsInclusive(t *testing.T) {
	start := time.Date(2025, 8, 11, 14, 30, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	q := RangeQuery("ticks", "QQQ", start, end)

	assert.True(t, strings.HasPrefix(q, `from(bucket: "ticks")`))
	assert.Contains(t, q, "start: 2025-08-11T14:30:00Z")
	assert.Contains(t, q, "stop: 2025-08-11T15:30:00.000000001Z")
	assert.Contains(t, q, `r.symbol == "QQQ"`)
}
