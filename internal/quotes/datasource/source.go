// Package datasource holds the contracts every upstream feed implements:
// point-in-time quotes, a push trade stream and historical candles.
package datasource

import (
	"context"
	"errors"
	"time"

	"tickflow.com/internal/quotes/datasource/model"
)

var (
	// ErrNoPrice means the upstream answered but carried no usable price.
	ErrNoPrice = errors.New("datasource: no usable price")
	// ErrNoData means the upstream has nothing for the requested window.
	ErrNoData = errors.New("datasource: no data")
)

// Quote is a raw latest-price answer. Ts is the upstream timestamp in
// whatever unit the feed uses; model.NormalizeTs resolves it.
type Quote struct {
	Price float64
	Ts    float64
	HasTs bool
}

type QuoteSource interface {
	Name() string
	FetchLatest(ctx context.Context, symbol string) (Quote, error)
}

// Trade is one streamed print before normalization.
type Trade struct {
	Symbol   string
	Price    float64
	HasPrice bool
	Ts       float64
	HasTs    bool
}

// StreamConn is one live connection to a push feed.
type StreamConn interface {
	Subscribe(ctx context.Context, symbol string) error
	// Read blocks for the next frame. It must return when ctx is done.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type TradeStream interface {
	Name() string
	Dial(ctx context.Context) (StreamConn, error)
	// Decode turns one frame into prints. Keepalives and non-trade frames
	// decode to (nil, nil).
	Decode(frame []byte) ([]Trade, error)
}

// Candles are parallel arrays; a nil entry is a value the upstream did not
// report.
type Candles struct {
	Ts    []int64 // unix seconds
	Open  []*float64
	High  []*float64
	Low   []*float64
	Close []*float64
}

func (c Candles) Len() int { return len(c.Ts) }

// Bar returns entry i. Entries without a close are unusable; a missing
// open/high/low falls back to the close.
func (c Candles) Bar(symbol string, i int) (model.Bar, bool) {
	cl := at(c.Close, i)
	if cl == nil {
		return model.Bar{}, false
	}
	or := func(p *float64) float64 {
		if p == nil {
			return *cl
		}
		return *p
	}
	return model.Bar{
		Symbol: symbol,
		Start:  time.Unix(c.Ts[i], 0).UTC(),
		Open:   or(at(c.Open, i)),
		High:   or(at(c.High, i)),
		Low:    or(at(c.Low, i)),
		Close:  *cl,
	}, true
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}

type HistorySource interface {
	Name() string
	FetchRange(ctx context.Context, symbol string, res model.Resolution, start, end time.Time) (Candles, error)
}
