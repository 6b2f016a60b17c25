package middleware

import (
	"fmt"
	"net/http"

	"github.com/arclight-labs/gatewaylb/internal/config"
)

// CORSStage sets Access-Control-Allow-* headers on every response,
// including rejections further down the chain, and terminates preflight
// (OPTIONS) requests with 204 without calling next.
func CORSStage(cfg config.CORSConfig) Stage {
	return Stage{
		Name: "cors",
		Handler: func(ctx *Context, next Next) {
			h := ctx.Writer.Header()
			h.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
			h.Set("Access-Control-Allow-Methods", cfg.AllowMethods)
			h.Set("Access-Control-Allow-Headers", cfg.AllowHeaders)
			h.Set("Access-Control-Max-Age", fmt.Sprintf("%d", cfg.MaxAge))

			if ctx.Request.Method == http.MethodOptions {
				ctx.Writer.WriteHeader(http.StatusNoContent)
				return
			}
			next()
		},
	}
}
