package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"tickflow.com/pkg/common"
	"tickflow.com/pkg/logger"
	"tickflow.com/pkg/xerr"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c, "http panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				common.FailCode(c, http.StatusInternalServerError, xerr.ServerCommonError)
				c.Abort()
			}
		}()
		c.Next()
	}
}
