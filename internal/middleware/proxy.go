package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arclight-labs/gatewaylb/internal/metrics"
)

// ProxyStage opens an upstream request copying method, path, query, and
// headers (overwriting Host with the backend's authority), streams the
// request body up and the response body back, and sets the x-gateway /
// x-backend / x-response-time diagnostic headers. It maps the outcome to
// the breaker and the balancer's completion hook on every terminal path,
// exactly once.
func ProxyStage(gatewayVersion string, timeout time.Duration, m *metrics.Metrics) Stage {
	client := &http.Client{}

	return Stage{
		Name: "proxy",
		Handler: func(ctx *Context, next Next) {
			if ctx.Backend == nil || ctx.Breaker == nil {
				respondJSON(ctx.Writer, http.StatusInternalServerError, map[string]any{
					"error": "no backend selected before proxy stage",
				})
				return
			}

			backend := ctx.Backend
			breaker := ctx.Breaker
			balancer := ctx.Balancer

			defer ctx.Complete()

			outURL := *ctx.Request.URL
			outURL.Scheme = "http"
			outURL.Host = backend.Authority()

			reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
			defer cancel()

			outReq, err := http.NewRequestWithContext(reqCtx, ctx.Request.Method, outURL.String(), ctx.Request.Body)
			if err != nil {
				breaker.OnFailure()
				m.IncrErrors()
				respondJSON(ctx.Writer, http.StatusBadGateway, map[string]any{"error": "failed to build upstream request"})
				return
			}
			outReq.Header = ctx.Request.Header.Clone()
			outReq.Host = backend.Authority()

			start := time.Now()
			resp, err := client.Do(outReq)
			if err != nil {
				breaker.OnFailure()
				m.IncrErrors()
				if errors.Is(err, context.DeadlineExceeded) {
					respondJSON(ctx.Writer, http.StatusGatewayTimeout, map[string]any{"error": "upstream request timed out"})
				} else {
					respondJSON(ctx.Writer, http.StatusBadGateway, map[string]any{"error": "upstream transport error", "detail": err.Error()})
				}
				return
			}
			defer resp.Body.Close()
			elapsed := time.Since(start)

			h := ctx.Writer.Header()
			for k, values := range resp.Header {
				for _, v := range values {
					h.Add(k, v)
				}
			}
			h.Set("x-gateway", gatewayVersion)
			h.Set("x-backend", backend.Name)
			h.Set("x-backend-port", strconv.Itoa(backend.Port))
			h.Set("x-response-time", fmt.Sprintf("%dms", elapsed.Milliseconds()))
			if balancer != nil {
				h.Set("x-lb-algorithm", balancer.Name())
			}
			h.Set("x-circuit-state", breaker.State().String())

			ctx.Writer.WriteHeader(resp.StatusCode)
			_, _ = io.Copy(ctx.Writer, resp.Body)

			if resp.StatusCode >= 500 {
				breaker.OnFailure()
			} else {
				breaker.OnSuccess()
			}
			m.IncrProxied(backend.Name, elapsed.Seconds())
		},
	}
}

func respondJSON(w *statusWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
