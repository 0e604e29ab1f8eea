package finnhub

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"tickflow.com/internal/quotes/datasource"
)

// Stream dials the finnhub trade websocket. Each Dial is one connection
// lifetime; reconnecting is the caller's job.
type Stream struct {
	URL   string
	Token string

	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
	Dialer    *websocket.Dialer
}

var _ datasource.TradeStream = (*Stream)(nil)

func NewStream(token string) *Stream {
	return &Stream{
		URL:       DefaultWSURL,
		Token:     token,
		ReadLimit: 1 << 20,
		PongWait:  60 * time.Second,
		WriteWait: 5 * time.Second,
		Dialer:    websocket.DefaultDialer,
	}
}

func (s *Stream) Name() string { return "finnhub-ws" }

func (s *Stream) Dial(ctx context.Context) (datasource.StreamConn, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		q := u.Query()
		q.Set("token", s.Token)
		u.RawQuery = q.Encode()
	}

	c, _, err := s.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.URL, err)
	}

	sc := &streamConn{c: c, pongWait: s.PongWait, writeWait: s.WriteWait}
	c.SetReadLimit(s.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
	c.SetPongHandler(func(string) error {
		_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})
	c.SetPingHandler(func(appData string) error {
		// the read deadline also moves on server pings
		_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
		sc.writeMu.Lock()
		defer sc.writeMu.Unlock()
		return c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.WriteWait))
	})
	return sc, nil
}

type streamConn struct {
	c         *websocket.Conn
	writeMu   sync.Mutex
	pongWait  time.Duration
	writeWait time.Duration
	closeOnce sync.Once
}

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (sc *streamConn) Subscribe(_ context.Context, symbol string) error {
	b, err := json.Marshal(subscribeMsg{Type: "subscribe", Symbol: symbol})
	if err != nil {
		return err
	}
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.c.SetWriteDeadline(time.Now().Add(sc.writeWait))
	return sc.c.WriteMessage(websocket.TextMessage, b)
}

// Read unblocks on ctx cancellation by closing the socket.
func (sc *streamConn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = sc.Close() })
	defer stop()

	_, msg, err := sc.c.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	// any frame proves liveness
	_ = sc.c.SetReadDeadline(time.Now().Add(sc.pongWait))
	return msg, nil
}

func (sc *streamConn) Close() error {
	var err error
	sc.closeOnce.Do(func() { err = sc.c.Close() })
	return err
}

type frame struct {
	Type string       `json:"type"`
	Data []tradeEntry `json:"data"`
}

type tradeEntry struct {
	S *string  `json:"s"`
	P *float64 `json:"p"`
	T *float64 `json:"t"` // unix ms
}

// Decode parses one feed frame. Pings and non-trade frames yield no trades.
func (s *Stream) Decode(b []byte) ([]datasource.Trade, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Type != "trade" || len(f.Data) == 0 {
		return nil, nil
	}
	out := make([]datasource.Trade, 0, len(f.Data))
	for _, e := range f.Data {
		var tr datasource.Trade
		if e.S != nil {
			tr.Symbol = *e.S
		}
		if e.P != nil {
			tr.Price, tr.HasPrice = *e.P, true
		}
		if e.T != nil {
			tr.Ts, tr.HasTs = *e.T, true
		}
		out = append(out, tr)
	}
	return out, nil
}
