package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/arclight-labs/gatewaylb/internal/config"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(config.Default(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestHealthSnapshot(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/gateway/health")
	if err != nil {
		t.Fatalf("GET /gateway/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap healthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.ActiveRateLimiter == "" || snap.ActiveLoadBalancer == "" {
		t.Fatalf("expected active algorithm names, got %+v", snap)
	}
	if len(snap.RateLimiters) != 5 || len(snap.LoadBalancers) != 5 {
		t.Fatalf("expected 5 limiters and 5 balancers, got %d/%d", len(snap.RateLimiters), len(snap.LoadBalancers))
	}
	if len(snap.Backends) != 3 {
		t.Fatalf("expected 3 backends, got %d", len(snap.Backends))
	}
	for _, b := range snap.Backends {
		if b.CircuitState != "CLOSED" {
			t.Fatalf("backend %s circuit state = %s, want CLOSED", b.Name, b.CircuitState)
		}
	}
	wantStages := []string{"logger", "cors", "rate-limit", "select", "proxy"}
	if len(snap.PipelineStages) != len(wantStages) {
		t.Fatalf("pipeline stages = %v, want %v", snap.PipelineStages, wantStages)
	}
	for i, name := range wantStages {
		if snap.PipelineStages[i] != name {
			t.Fatalf("pipeline stages = %v, want %v", snap.PipelineStages, wantStages)
		}
	}
}

func TestSwapRateLimiter(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/gateway/rate-limiter/sliding-log", "application/json", nil)
	if err != nil {
		t.Fatalf("POST swap: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := g.activeLimiter.Load().Name(); got != "sliding-log" {
		t.Fatalf("active limiter = %s, want sliding-log", got)
	}

	resp, err = http.Post(srv.URL+"/gateway/rate-limiter/nonexistent", "application/json", nil)
	if err != nil {
		t.Fatalf("POST swap unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown algorithm", resp.StatusCode)
	}
	if got := g.activeLimiter.Load().Name(); got != "sliding-log" {
		t.Fatalf("active limiter changed by failed swap: %s", got)
	}
}

func TestSwapLoadBalancer(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/gateway/load-balancer/consistent-hash", "application/json", nil)
	if err != nil {
		t.Fatalf("POST swap: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := g.activeLB.Load().Name(); got != "consistent-hash" {
		t.Fatalf("active balancer = %s, want consistent-hash", got)
	}

	resp, err = http.Post(srv.URL+"/gateway/load-balancer/nonexistent", "application/json", nil)
	if err != nil {
		t.Fatalf("POST swap unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown algorithm", resp.StatusCode)
	}
}

func TestToggleBackend(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	name := g.cfg.Backends[0].Name
	resp, err := http.Post(srv.URL+"/gateway/backend/"+name+"/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST toggle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	b, _ := g.pool.Get(name)
	if b.Healthy() {
		t.Fatal("expected backend unhealthy after toggle")
	}

	resp, err = http.Post(srv.URL+"/gateway/backend/nonexistent/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("POST toggle unknown: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown backend", resp.StatusCode)
	}
}

func TestResetBreaker(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	name := g.cfg.Backends[0].Name
	cb := g.breakers[name]
	for i := 0; i < g.cfg.CircuitBreaker.FailureThreshold; i++ {
		cb.OnFailure()
	}
	if cb.State().String() != "OPEN" {
		t.Fatalf("breaker state = %s, want OPEN before reset", cb.State())
	}

	resp, err := http.Post(srv.URL+"/gateway/circuit/"+name+"/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if cb.State().String() != "CLOSED" {
		t.Fatalf("breaker state = %s, want CLOSED after reset", cb.State())
	}
}

func TestResetMetrics(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	g.metrics.IncrTotalRequests()
	g.metrics.IncrProxied("backend-a", 0.01)

	resp, err := http.Post(srv.URL+"/gateway/metrics/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST metrics reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	snap := g.metrics.Snapshot()
	if snap.TotalRequests != 0 || len(snap.ByBackend) != 0 {
		t.Fatalf("expected zeroed metrics after reset, got %+v", snap)
	}
}

func TestPrometheusExposition(t *testing.T) {
	g := testGateway(t)
	srv := httptest.NewServer(g.controlMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/gateway/metrics/prometheus")
	if err != nil {
		t.Fatalf("GET prometheus: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
