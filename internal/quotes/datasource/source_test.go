package datasource

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func f(v float64) *float64 { return &v }

func TestCandles_Bar(t *testing.T) {
	c := Candles{
		Ts:    []int64{1690000000, 1690000060, 1690000120},
		Open:  []*float64{f(10), nil, f(1)},
		High:  []*float64{f(15), nil},
		Low:   []*float64{f(8), nil, f(1)},
		Close: []*float64{f(12), f(11), nil},
	}
	assert.Equal(t, 3, c.Len())

	b, ok := c.Bar("SPY", 0)
	assert.True(t, ok)
	assert.Equal(t, 10.0, b.Open)
	assert.Equal(t, 15.0, b.High)
	assert.Equal(t, 8.0, b.Low)
	assert.Equal(t, 12.0, b.Close)
	assert.Equal(t, time.Unix(1690000000, 0).UTC(), b.Start)

	b, ok = c.Bar("SPY", 1)
	assert.True(t, ok, "missing o/h/l fall back to close")
	assert.Equal(t, 11.0, b.Open)
	assert.Equal(t, 11.0, b.High)

	_, ok = c.Bar("SPY", 2)
	assert.False(t, ok, "missing close is unusable")
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{Status: 429}, true},
		{"502", &StatusError{Status: 502}, true},
		{"503", &StatusError{Status: 503}, true},
		{"504", &StatusError{Status: 504}, true},
		{"403", &StatusError{Status: 403}, false},
		{"500", &StatusError{Status: 500}, false},
		{"wrapped 429", fmt.Errorf("chunk: %w", &StatusError{Status: 429}), true},
		{"net", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad json"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsTransient(c.err))
		})
	}
}
