package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"tickflow.com/internal/quotes/handler"
	"tickflow.com/internal/quotes/http/router"
	"tickflow.com/internal/quotes/ws"
	"tickflow.com/pkg/middleware"
	"tickflow.com/pkg/ratelimit"
)

type Options struct {
	Service     string
	CORSOrigins []string
	// RPS 0 disables the per-client limiter.
	RPS          float64
	Burst        int
	RateLimitTTL time.Duration
	// Metrics adds gin request metrics and /metrics.
	Metrics bool
}

type Handlers struct {
	Prices   *handler.Prices
	Bars     *handler.Bars
	Backfill *handler.Backfill
	Health   *handler.Health
	WS       *ws.Server
}

// NewEngine builds the router. The limiter janitor stops with ctx.
func NewEngine(ctx context.Context, opt Options, h Handlers) *gin.Engine {
	r := gin.New()
	if opt.Metrics {
		p := ginprom.NewPrometheus("tickflow")
		// one series per route, not per symbol query
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		}
		// also mounts /metrics on the default registry
		p.Use(r)
	}

	r.Use(
		otelgin.Middleware(opt.Service),
		middleware.ReqId(),
		cors.New(corsConfig(opt.CORSOrigins)),
		middleware.Recover(),
	)
	if opt.RPS > 0 {
		store := ratelimit.NewStore(rate.Limit(opt.RPS), opt.Burst, opt.RateLimitTTL)
		store.StartJanitor(ctx, time.Minute)
		r.Use(middleware.RateLimit(opt.Service, store))
	}

	router.Health(r, h.Health)
	router.Prices(r, h.Prices)
	router.Bars(r, h.Bars)
	router.Backfill(r, h.Backfill)
	if h.WS != nil {
		r.GET("/ws/prices", gin.WrapF(h.WS.ServeWS))
	}
	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// backfills run inside the request
		WriteTimeout:   10 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AllowHeaders = append(c.AllowHeaders, "X-Request-Id")
	c.ExposeHeaders = []string{"X-Request-Id"}
	return c
}
