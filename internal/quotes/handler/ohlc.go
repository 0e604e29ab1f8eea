package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/internal/quotes/kline"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/xerr"
)

// Bars serves GET /ohlc.
type Bars struct {
	Svc *kline.Service
}

type candleOut struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// OHLC answers /ohlc?symbol&resolution=1&lookback_minutes=390. An unknown
// resolution falls back to one minute.
func (b *Bars) OHLC(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "symbol is required")
		return
	}
	res, err := model.ParseResolution(c.DefaultQuery("resolution", "1"))
	if err != nil {
		res = model.Minute
	}
	lookback := kline.DefaultLookback
	if s := c.Query("lookback_minutes"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "lookback_minutes must be >= 1")
			return
		}
		lookback = time.Duration(n) * time.Minute
	}

	bars, err := b.Svc.Bars(c.Request.Context(), symbol, res, lookback)
	if err != nil {
		common.FailLogged(c, http.StatusInternalServerError, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
		return
	}
	out := make([]candleOut, 0, len(bars))
	for _, bar := range bars {
		out = append(out, candleOut{
			Time:  bar.Start.Unix(),
			Open:  bar.Open,
			High:  bar.High,
			Low:   bar.Low,
			Close: bar.Close,
		})
	}
	c.JSON(http.StatusOK, out)
}
