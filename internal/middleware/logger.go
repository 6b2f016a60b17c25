package middleware

import (
	"time"

	"go.uber.org/zap"
)

// LoggerStage runs first so that even requests rejected later are logged
// with their final status and elapsed time. The deferred finish hook
// fires once the rest of the chain has run, regardless of how it
// terminated.
func LoggerStage(log *zap.SugaredLogger) Stage {
	return Stage{
		Name: "logger",
		Handler: func(ctx *Context, next Next) {
			defer func() {
				elapsed := time.Since(ctx.Start)
				log.Infow("request",
					"requestID", ctx.RequestID,
					"method", ctx.Request.Method,
					"path", ctx.Request.URL.Path,
					"clientKey", ctx.ClientKey,
					"status", ctx.Writer.Status(),
					"elapsedMs", elapsed.Milliseconds(),
					"rateLimited", ctx.Meta["rateLimited"],
					"rateLimitAlgorithm", ctx.Meta["rateLimitAlgorithm"],
					"lbAlgorithm", ctx.Meta["lbAlgorithm"],
					"backend", ctx.Meta["backend"],
					"circuitState", ctx.Meta["circuitState"],
				)
			}()
			next()
		},
	}
}
