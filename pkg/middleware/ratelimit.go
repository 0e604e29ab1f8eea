package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/metrics"
	"tickflow.com/pkg/ratelimit"
	"tickflow.com/pkg/xerr"
)

// RateLimit limits per client IP and route.
func RateLimit(service string, store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// expected rejection, no stack
			logger.Warn(c, "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(service, route, "ip_route").Inc()
			common.FailCode(c, http.StatusTooManyRequests, xerr.TooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
