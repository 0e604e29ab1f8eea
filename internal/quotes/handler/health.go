package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"tickflow.com/internal/quotes/storage"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/xerr"
)

type Health struct {
	Store storage.TickStore
}

func (h *Health) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "quotes-service is running"})
}

// DB reports the database version and whether timescaledb is installed.
func (h *Health) DB(c *gin.Context) {
	hc, ok := storage.Find[storage.HealthChecker](h.Store)
	if !ok {
		common.FailCode(c, http.StatusServiceUnavailable, xerr.NotConfigured)
		return
	}
	st, err := hc.Health(c.Request.Context())
	if err != nil {
		common.FailLogged(c, http.StatusServiceUnavailable, xerr.DbError, xerr.MapErrMsg(xerr.DbError), err)
		return
	}
	c.JSON(http.StatusOK, st)
}
