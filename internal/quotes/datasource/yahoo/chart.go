// Package yahoo reads historical candles from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tickflow.com/internal/quotes/datasource"
	"tickflow.com/internal/quotes/datasource/model"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultUserAgent = "Mozilla/5.0 (compatible; tickflow-backfill/1.0)"
)

type Client struct {
	BaseURL        string
	UserAgent      string
	IncludePrePost bool
	HTTP           *http.Client
}

var _ datasource.HistorySource = (*Client)(nil)

func NewClient(timeout time.Duration) *Client {
	return &Client{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		HTTP:      datasource.NewHTTPClient(timeout),
	}
}

func (c *Client) Name() string { return "yahoo" }

// WithPrePost returns a copy that asks for (or drops) extended-hours bars.
func (c *Client) WithPrePost(on bool) datasource.HistorySource {
	cp := *c
	cp.IncludePrePost = on
	return &cp
}

// Interval maps a resolution to Yahoo's spelling: "1d" or "{n}m".
func Interval(res model.Resolution) string {
	if !res.Intraday() {
		return "1d"
	}
	return strconv.Itoa(int(res)) + "m"
}

type chartResp struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// FetchRange asks /v8/finance/chart/{symbol} for [start, end]. A window
// without results is empty, not an error.
func (c *Client) FetchRange(ctx context.Context, symbol string, res model.Resolution, start, end time.Time) (datasource.Candles, error) {
	q := url.Values{
		"period1":        {strconv.FormatInt(start.Unix(), 10)},
		"period2":        {strconv.FormatInt(end.Unix(), 10)},
		"interval":       {Interval(res)},
		"includePrePost": {strconv.FormatBool(c.IncludePrePost)},
		"events":         {"history"},
		"lang":           {"en-US"},
		"region":         {"US"},
	}
	h := http.Header{}
	h.Set("User-Agent", c.UserAgent)
	h.Set("Accept", "application/json, text/plain, */*")

	var r chartResp
	u := c.BaseURL + "/v8/finance/chart/" + url.PathEscape(symbol)
	if err := datasource.GetJSON(ctx, c.HTTP, u, q, h, &r); err != nil {
		return datasource.Candles{}, err
	}
	if len(r.Chart.Result) == 0 || len(r.Chart.Result[0].Indicators.Quote) == 0 {
		return datasource.Candles{}, nil
	}
	res0 := r.Chart.Result[0]
	qt := res0.Indicators.Quote[0]
	return datasource.Candles{
		Ts:    res0.Timestamp,
		Open:  qt.Open,
		High:  qt.High,
		Low:   qt.Low,
		Close: qt.Close,
	}, nil
}
