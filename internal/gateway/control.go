package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
	"github.com/arclight-labs/gatewaylb/internal/circuitbreaker"
)

// controlMux builds the control-surface handler: a health snapshot,
// hot-swap endpoints for the active rate limiter and load balancer, a
// backend health toggle (with an optional drain), a breaker reset, a
// metrics reset, and a Prometheus exposition mount.
func (g *Gateway) controlMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gateway/health", g.handleHealth)
	mux.HandleFunc("POST /gateway/rate-limiter/{name}", g.handleSwapLimiter)
	mux.HandleFunc("POST /gateway/load-balancer/{name}", g.handleSwapBalancer)
	mux.HandleFunc("POST /gateway/backend/{name}/toggle", g.handleToggleBackend)
	mux.HandleFunc("POST /gateway/circuit/{name}/reset", g.handleResetBreaker)
	mux.HandleFunc("POST /gateway/metrics/reset", g.handleResetMetrics)
	mux.Handle("GET /gateway/metrics/prometheus", promhttp.HandlerFor(g.metrics.Registry(), promhttp.HandlerOpts{}))
	return mux
}

type backendSnapshot struct {
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Weight       int    `json:"weight"`
	Healthy      bool   `json:"healthy"`
	ActiveConns  int64  `json:"count"`
	CircuitState string `json:"circuitState"`
}

type healthSnapshot struct {
	ActiveRateLimiter  string                          `json:"activeRateLimiter"`
	ActiveLoadBalancer string                          `json:"activeLoadBalancer"`
	RateLimiters       []string                        `json:"rateLimiters"`
	LoadBalancers      []string                        `json:"loadBalancers"`
	PipelineStages     []string                        `json:"pipelineStages"`
	Backends           []backendSnapshot               `json:"backends"`
	Breakers           map[string]circuitbreaker.Stats `json:"breakers"`
	Metrics            interface{}                     `json:"metrics"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	backends := g.pool.All()
	snaps := make([]backendSnapshot, 0, len(backends))
	breakerStats := make(map[string]circuitbreaker.Stats, len(backends))
	for _, b := range backends {
		cb := g.breakers[b.Name]
		snaps = append(snaps, backendSnapshot{
			Name:         b.Name,
			Host:         b.Host,
			Port:         b.Port,
			Weight:       b.Weight,
			Healthy:      b.Healthy(),
			ActiveConns:  b.ActiveConns(),
			CircuitState: cb.State().String(),
		})
		breakerStats[b.Name] = cb.Stats()
	}

	snap := healthSnapshot{
		ActiveRateLimiter:  g.activeLimiter.Load().Name(),
		ActiveLoadBalancer: g.activeLB.Load().Name(),
		RateLimiters:       g.limiters.Names(),
		LoadBalancers:      g.lbs.Names(),
		PipelineStages:     g.pipeline.StageNames(),
		Backends:           snaps,
		Breakers:           breakerStats,
		Metrics:            g.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, snap)
}

func (g *Gateway) handleSwapLimiter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	limiter, ok := g.limiters.Get(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown rate limiter algorithm", "name": name})
		return
	}
	g.activeLimiter.Store(limiter)
	g.log.Infow("active rate limiter swapped", "algorithm", name)
	writeJSON(w, http.StatusOK, map[string]any{"activeRateLimiter": name})
}

func (g *Gateway) handleSwapBalancer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	lb, ok := g.lbs.Get(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unknown load balancer algorithm", "name": name})
		return
	}
	g.activeLB.Store(lb)
	g.log.Infow("active load balancer swapped", "algorithm", name)
	writeJSON(w, http.StatusOK, map[string]any{"activeLoadBalancer": name})
}

// handleToggleBackend flips a backend's healthy flag. With ?drain=true it
// instead marks the backend unhealthy and blocks the request until the
// backend's active-connection count (maintained by least-connections)
// reaches zero or the drain timeout elapses, per the generalized
// rollout/rollback drain in backendpool.Drain.
func (g *Gateway) handleToggleBackend(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	backend, ok := g.pool.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown backend", "name": name})
		return
	}

	if r.URL.Query().Get("drain") == "true" {
		// Mark unhealthy through the registry first so every balancer
		// rebuilds its healthy list before we start waiting.
		if _, err := g.pool.SetHealthy(name, false); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		drainCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := backendpool.Drain(drainCtx, backend, 100*time.Millisecond, 30*time.Second); err != nil {
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": err.Error()})
			return
		}
		g.metrics.SetBackendHealth(name, false)
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "healthy": false, "drained": true})
		return
	}

	updated, err := g.pool.Toggle(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	g.metrics.SetBackendHealth(name, updated.Healthy())
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "healthy": updated.Healthy()})
}

func (g *Gateway) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cb, ok := g.breakers[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown backend", "name": name})
		return
	}
	cb.Reset()
	g.log.Infow("circuit breaker reset", "backend", name)
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "state": cb.State().String()})
}

func (g *Gateway) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	g.metrics.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
