package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/xerr"
)

// LatestReader is the latest-tick cache.
type LatestReader interface {
	Latest(ctx context.Context) ([]model.Tick, error)
}

type Prices struct {
	Store storage.TickStore
	// Latest may be nil when no cache is configured.
	Latest LatestReader
	now    func() time.Time
}

func NewPrices(store storage.TickStore, latest LatestReader) *Prices {
	return &Prices{Store: store, Latest: latest, now: time.Now}
}

type priceIn struct {
	Symbol string     `json:"symbol" binding:"required"`
	Price  *float64   `json:"price" binding:"required"`
	Ts     *Timestamp `json:"ts"`
}

func (p *Prices) tick(in priceIn) model.Tick {
	ts := p.now().UTC()
	if in.Ts != nil && !in.Ts.IsZero() {
		ts = in.Ts.UTC()
	}
	return model.Tick{Ts: ts, Symbol: in.Symbol, Price: *in.Price}
}

// Create stores one tick; ts defaults to now.
func (p *Prices) Create(c *gin.Context) {
	var in priceIn
	if err := c.ShouldBindJSON(&in); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error(), err)
		return
	}
	t := p.tick(in)
	if err := p.Store.Append(c.Request.Context(), t); err != nil {
		common.FailLogged(c, http.StatusInternalServerError, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
		return
	}
	metrics.TicksIngested.WithLabelValues("api").Inc()
	c.JSON(http.StatusOK, t)
}

// CreateBulk stores all ticks in one batch or none of them.
func (p *Prices) CreateBulk(c *gin.Context) {
	var in []priceIn
	if err := c.ShouldBindJSON(&in); err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error(), err)
		return
	}
	ticks := make([]model.Tick, 0, len(in))
	for _, item := range in {
		ticks = append(ticks, p.tick(item))
	}
	if len(ticks) > 0 {
		if err := p.Store.AppendBatch(c.Request.Context(), ticks); err != nil {
			common.FailLogged(c, http.StatusInternalServerError, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
			return
		}
		metrics.TicksIngested.WithLabelValues("api").Add(float64(len(ticks)))
	}
	c.JSON(http.StatusOK, ticks)
}

// List answers GET /prices?symbol&start&end&limit&page, newest first.
func (p *Prices) List(c *gin.Context) {
	f, err := listFilter(c)
	if err != nil {
		common.FailLogged(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error(), err)
		return
	}
	l, ok := storage.Find[storage.Lister](p.Store)
	if !ok {
		common.FailCode(c, http.StatusNotImplemented, xerr.NotConfigured)
		return
	}
	out, err := l.List(c.Request.Context(), f)
	if err != nil {
		common.FailLogged(c, http.StatusInternalServerError, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func listFilter(c *gin.Context) (storage.Filter, error) {
	f := storage.Filter{Symbol: c.Query("symbol")}
	var err error
	if f.Start, err = parseTime(c.Query("start")); err != nil {
		return f, err
	}
	if f.End, err = parseTime(c.Query("end")); err != nil {
		return f, err
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > storage.MaxListLimit {
			return f, errors.New("limit must be in 1..10000")
		}
		f.Limit = n
	}
	if s := c.Query("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return f, errors.New("page must be positive")
		}
		f.Page = n
	}
	return f, nil
}

// LatestTicks returns the newest tick of every symbol from the cache.
func (p *Prices) LatestTicks(c *gin.Context) {
	if p.Latest == nil {
		common.FailCode(c, http.StatusServiceUnavailable, xerr.NotConfigured)
		return
	}
	out, err := p.Latest.Latest(c.Request.Context())
	if err != nil {
		common.FailLogged(c, http.StatusServiceUnavailable, xerr.ServerCommonError, "cache unavailable", err)
		return
	}
	c.JSON(http.StatusOK, out)
}
