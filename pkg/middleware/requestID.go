package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"tickflow.com/pkg/common"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// handlers pass c.Request.Context() to stores and sources
		ctx := context.WithValue(c.Request.Context(), common.CtxKeyRequestID, rid) //nolint:staticcheck
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
