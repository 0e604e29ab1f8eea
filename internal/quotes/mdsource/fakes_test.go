package mdsource

import (
	"context"
	"errors"
	"sync"

	"github.com/segmentio/encoding/json"
	"tickflow.com/internal/quotes/datasource"
)

type recPub struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (r *recPub) Publish(_ context.Context, msg []byte) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recPub) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.msgs...)
}

type fakeQuotes struct {
	quotes map[string]datasource.Quote
	errs   map[string]error
	panics bool
}

func (f *fakeQuotes) Name() string { return "fake" }

func (f *fakeQuotes) FetchLatest(_ context.Context, symbol string) (datasource.Quote, error) {
	if f.panics {
		panic("upstream exploded")
	}
	if err := f.errs[symbol]; err != nil {
		return datasource.Quote{}, err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return datasource.Quote{}, datasource.ErrNoPrice
	}
	return q, nil
}

// fakeStream hands out scripted connections; a nil entry means Dial fails.
type fakeStream struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (f *fakeStream) Name() string { return "fake-ws" }

func (f *fakeStream) Dial(context.Context) (datasource.StreamConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.dials
	f.dials++
	if i >= len(f.conns) || f.conns[i] == nil {
		return nil, errors.New("dial refused")
	}
	return f.conns[i], nil
}

type wireTrade struct {
	S *string  `json:"s"`
	P *float64 `json:"p"`
	T *float64 `json:"t"`
}

func (f *fakeStream) Decode(b []byte) ([]datasource.Trade, error) {
	var msg struct {
		Type string      `json:"type"`
		Data []wireTrade `json:"data"`
	}
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	if msg.Type != "trade" {
		return nil, nil
	}
	out := make([]datasource.Trade, 0, len(msg.Data))
	for _, d := range msg.Data {
		var tr datasource.Trade
		if d.S != nil {
			tr.Symbol = *d.S
		}
		if d.P != nil {
			tr.Price, tr.HasPrice = *d.P, true
		}
		if d.T != nil {
			tr.Ts, tr.HasTs = *d.T, true
		}
		out = append(out, tr)
	}
	return out, nil
}

// fakeConn yields its frames, then fails with endErr (or blocks until ctx
// is done when endErr is nil).
type fakeConn struct {
	frames []string
	endErr error

	mu     sync.Mutex
	subs   []string
	closed bool
}

func (c *fakeConn) Subscribe(_ context.Context, symbol string) error {
	c.mu.Lock()
	c.subs = append(c.subs, symbol)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		return []byte(f), nil
	}
	c.mu.Unlock()
	if c.endErr != nil {
		return nil, c.endErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subs...)
}
