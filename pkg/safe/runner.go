// Package safe starts goroutines that log a panic instead of crashing the
// process.
package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"tickflow.com/pkg/logger"
)

// GoCtx runs fn in a new goroutine. The panic log carries ctx's request and
// trace ids.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "goroutine panic recovered",
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())),
				)
			}
		}()

		fn(ctx)
	}()
}
