// Package finnhub talks to finnhub.io: the /quote and /stock/candle REST
// endpoints and the trade websocket.
package finnhub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
)

const (
	DefaultRESTURL = "https://finnhub.io/api/v1"
	DefaultWSURL   = "wss://ws.finnhub.io"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

var (
	_ datasource.QuoteSource   = (*Client)(nil)
	_ datasource.HistorySource = (*Client)(nil)
)

func NewClient(token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: DefaultRESTURL,
		Token:   token,
		HTTP:    datasource.NewHTTPClient(timeout),
	}
}

func (c *Client) Name() string { return "finnhub" }

type quoteResp struct {
	C *float64 `json:"c"` // current price
	T *float64 `json:"t"` // unix seconds
}

// FetchLatest calls /quote. Finnhub answers unknown symbols with c=0, which
// is reported as ErrNoPrice like a missing c.
func (c *Client) FetchLatest(ctx context.Context, symbol string) (datasource.Quote, error) {
	var r quoteResp
	q := url.Values{"symbol": {symbol}, "token": {c.Token}}
	if err := datasource.GetJSON(ctx, c.HTTP, c.BaseURL+"/quote", q, nil, &r); err != nil {
		return datasource.Quote{}, err
	}
	if r.C == nil || *r.C == 0 {
		return datasource.Quote{}, datasource.ErrNoPrice
	}
	out := datasource.Quote{Price: *r.C}
	if r.T != nil {
		out.Ts, out.HasTs = *r.T, true
	}
	return out, nil
}

type candleResp struct {
	S string     `json:"s"`
	T []int64    `json:"t"`
	O []*float64 `json:"o"`
	H []*float64 `json:"h"`
	L []*float64 `json:"l"`
	C []*float64 `json:"c"`
}

// FetchRange calls /stock/candle. "no_data" is an empty window, not an error.
func (c *Client) FetchRange(ctx context.Context, symbol string, res model.Resolution, start, end time.Time) (datasource.Candles, error) {
	var r candleResp
	q := url.Values{
		"symbol":     {symbol},
		"resolution": {res.String()},
		"from":       {strconv.FormatInt(start.Unix(), 10)},
		"to":         {strconv.FormatInt(end.Unix(), 10)},
		"token":      {c.Token},
	}
	if err := datasource.GetJSON(ctx, c.HTTP, c.BaseURL+"/stock/candle", q, nil, &r); err != nil {
		return datasource.Candles{}, err
	}
	switch r.S {
	case "ok":
	case "no_data":
		return datasource.Candles{}, nil
	default:
		return datasource.Candles{}, fmt.Errorf("finnhub candle status %q: %w", r.S, datasource.ErrNoData)
	}
	return datasource.Candles{Ts: r.T, Open: r.O, High: r.H, Low: r.L, Close: r.C}, nil
}
