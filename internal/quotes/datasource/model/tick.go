package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tick is one price observation after normalization. Every ingestor produces
// this shape regardless of the upstream feed:
// - Ts is always UTC
// - (Ts, Symbol) is unique only by convention; the store accepts duplicates
type Tick struct {
	Ts     time.Time `json:"ts" gorm:"column:ts;type:timestamptz;not null;index:idx_prices_symbol_ts,priority:2"`
	Symbol string    `json:"symbol" gorm:"column:symbol;type:text;not null;index:idx_prices_symbol_ts,priority:1"`
	Price  float64   `json:"price" gorm:"column:price;type:double precision;not null"`
}

// TableName keeps the original "prices" table.
func (Tick) TableName() string { return "prices" }

func (t Tick) String() string {
	return fmt.Sprintf("%s %s %g", t.Symbol, t.Ts.Format(time.RFC3339Nano), t.Price)
}

// Bar is an OHLC summary of the ticks in [Start, Start+width).
type Bar struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`

	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Resolution is a bucket width in minutes. Daily is the calendar-day bucket
// (UTC midnight aligned).
type Resolution int

const (
	Minute Resolution = 1
	Daily  Resolution = 1440
)

// ParseResolution accepts "1", "5", "15", "60", ... and "D"/"d".
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "D" {
		return Daily, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	return Resolution(n), nil
}

func (r Resolution) Duration() time.Duration { return time.Duration(r) * time.Minute }

// Intraday reports whether the bucket is narrower than a day.
func (r Resolution) Intraday() bool { return r < Daily }

// String is the upstream spelling: "D" for daily, minutes otherwise.
func (r Resolution) String() string {
	if r == Daily {
		return "D"
	}
	return strconv.Itoa(int(r))
}
