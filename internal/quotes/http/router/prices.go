package router

import (
	"github.com/gin-gonic/gin"
	"tickflow.com/internal/quotes/handler"
)

func Prices(r gin.IRouter, h *handler.Prices) {
	prices := r.Group("/prices")
	{
		prices.GET("", h.List)
		prices.POST("", h.Create)
		prices.POST("/bulk", h.CreateBulk)
		prices.GET("/latest", h.LatestTicks)
	}
}

func Bars(r gin.IRouter, h *handler.Bars) {
	r.GET("/ohlc", h.OHLC)
}

func Backfill(r gin.IRouter, h *handler.Backfill) {
	r.POST("/backfill", h.FromFinnhub)
	r.POST("/backfill_yahoo", h.FromYahoo)
}

func Health(r gin.IRouter, h *handler.Health) {
	r.GET("/", h.Root)
	r.GET("/health/db", h.DB)
}
