package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arclight-labs/gatewaylb/internal/metrics"
	"github.com/arclight-labs/gatewaylb/internal/ratelimit"
	"github.com/arclight-labs/gatewaylb/internal/selector"
)

// RateLimitStage consults the active limiter for ctx.ClientKey. It always
// sets X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Algorithm; when denied it additionally sets Retry-After and
// ends with 429 and a JSON body naming the algorithm, without calling
// next.
func RateLimitStage(active *selector.Ref[ratelimit.Limiter], m *metrics.Metrics) Stage {
	return Stage{
		Name: "rate-limit",
		Handler: func(ctx *Context, next Next) {
			m.IncrTotalRequests()

			limiter := active.Load()
			decision := limiter.Consume(ctx.ClientKey)

			h := ctx.Writer.Header()
			h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
			h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
			h.Set("X-RateLimit-Algorithm", limiter.Name())

			ctx.Meta["rateLimitAlgorithm"] = limiter.Name()
			ctx.Meta["rateLimited"] = !decision.Allowed

			if !decision.Allowed {
				m.IncrRateLimited()
				h.Set("Retry-After", fmt.Sprintf("%d", decision.RetryAfter))
				ctx.Writer.Header().Set("Content-Type", "application/json")
				ctx.Writer.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(ctx.Writer).Encode(map[string]any{
					"error":      "rate limit exceeded",
					"algorithm":  limiter.Name(),
					"retryAfter": decision.RetryAfter,
				})
				return
			}

			next()
		},
	}
}
