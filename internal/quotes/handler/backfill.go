package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"tickflow.com/internal/quotes/backfill"
	"tickflow.com/internal/quotes/datasource/model"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/xerr"
)

const defaultBackfillDays = 120

// Guard serializes backfills of one symbol. release is called once the run
// ends; ok is false when somebody else holds key.
type Guard func(ctx context.Context, key string) (release func(), ok bool, err error)

// LocalGuard excludes concurrent runs inside this process only.
func LocalGuard() Guard {
	var held sync.Map
	return func(_ context.Context, key string) (func(), bool, error) {
		if _, loaded := held.LoadOrStore(key, struct{}{}); loaded {
			return nil, false, nil
		}
		return func() { held.Delete(key) }, true, nil
	}
}

// Backfill serves POST /backfill (Finnhub) and POST /backfill_yahoo.
type Backfill struct {
	// Finnhub is nil when no token is configured.
	Finnhub *backfill.Service
	Yahoo   *backfill.Service
	Guard   Guard
}

type backfillOut struct {
	OK bool `json:"ok"`
	backfill.Summary
}

type chunkOut struct {
	Status    int     `json:"status,omitempty"`
	Text      string  `json:"text,omitempty"`
	Chunk     []int64 `json:"chunk"`
	Attempts  int     `json:"attempts"`
	Exhausted bool    `json:"exhausted"`
	Inserted  int     `json:"inserted"`
}

func (b *Backfill) FromFinnhub(c *gin.Context) {
	if b.Finnhub == nil {
		common.Fail(c, http.StatusServiceUnavailable, xerr.NotConfigured, "finnhub token not set")
		return
	}
	b.run(c, b.Finnhub, false)
}

func (b *Backfill) FromYahoo(c *gin.Context) {
	b.run(c, b.Yahoo, true)
}

func (b *Backfill) run(c *gin.Context, svc *backfill.Service, extended bool) {
	req, err := backfillRequest(c, extended)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error())
		return
	}
	ctx := c.Request.Context()

	if b.Guard != nil {
		release, ok, err := b.Guard(ctx, "backfill:"+req.Symbol)
		switch {
		case err != nil:
			// lock backend down: run unguarded rather than refuse
			logger.Warn(ctx, "backfill lock unavailable", zap.String("symbol", req.Symbol), zap.Error(err))
		case !ok:
			common.Fail(c, http.StatusConflict, xerr.Conflict, "backfill for "+req.Symbol+" already running")
			return
		default:
			defer release()
		}
	}

	sum, err := svc.Backfill(ctx, req)
	var ce *backfill.ChunkError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, backfillOut{OK: true, Summary: sum})
	case errors.Is(err, backfill.ErrBadRequest):
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, err.Error())
	case errors.As(err, &ce):
		logger.Warn(ctx, "backfill upstream failure", zap.String("symbol", req.Symbol), zap.Error(err))
		common.FailWith(c, http.StatusBadGateway, xerr.UpstreamError, xerr.MapErrMsg(xerr.UpstreamError), chunkOut{
			Status:    ce.Status,
			Text:      ce.Body,
			Chunk:     []int64{ce.Start.Unix(), ce.End.Unix()},
			Attempts:  ce.Attempts,
			Exhausted: ce.Exhausted,
			Inserted:  sum.Inserted,
		})
	case ctx.Err() != nil:
		common.FailLogged(c, http.StatusGatewayTimeout, xerr.ServerCommonError, "backfill cancelled", err)
	default:
		common.FailLogged(c, http.StatusInternalServerError, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
	}
}

func backfillRequest(c *gin.Context, extended bool) (backfill.Request, error) {
	req := backfill.Request{Symbol: c.Query("symbol"), Days: defaultBackfillDays}
	if req.Symbol == "" {
		return req, errors.New("symbol is required")
	}
	res, err := model.ParseResolution(c.DefaultQuery("res", "D"))
	if err != nil {
		return req, err
	}
	req.Resolution = res
	if s := c.Query("days"); s != "" {
		if req.Days, err = strconv.Atoi(s); err != nil {
			return req, errors.New("days must be an integer")
		}
	}
	if !extended {
		return req, nil
	}
	if req.Mode, err = backfill.ParseMode(c.Query("mode")); err != nil {
		return req, err
	}
	if s := c.Query("include_prepost"); s != "" {
		if req.IncludePrePost, err = strconv.ParseBool(s); err != nil {
			return req, errors.New("include_prepost must be a boolean")
		}
	}
	return req, nil
}
