// Package integration exercises the full request pipeline end to end:
// real HTTP backends, the real middleware chain, and the real rate
// limiter / load balancer / circuit breaker implementations wired
// together the way internal/gateway.New wires them.
package integration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
	"github.com/arclight-labs/gatewaylb/internal/circuitbreaker"
	"github.com/arclight-labs/gatewaylb/internal/config"
	"github.com/arclight-labs/gatewaylb/internal/loadbalancer"
	"github.com/arclight-labs/gatewaylb/internal/metrics"
	"github.com/arclight-labs/gatewaylb/internal/middleware"
	"github.com/arclight-labs/gatewaylb/internal/ratelimit"
	"github.com/arclight-labs/gatewaylb/internal/selector"
)

// testBackend is a real upstream HTTP server identified by name in its
// response body, so a test can tell which backend answered a request.
type testBackend struct {
	name string
	srv  *httptest.Server
	fail bool
}

func newTestBackend(t *testing.T, name string) *testBackend {
	t.Helper()
	tb := &testBackend{name: name}
	tb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tb.fail {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "error from %s", name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "response from %s", name)
	}))
	return tb
}

func (tb *testBackend) backendConfig(t *testing.T, weight int) config.BackendConfig {
	t.Helper()
	u, err := url.Parse(tb.srv.URL)
	if err != nil {
		t.Fatalf("parse backend URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse backend port: %v", err)
	}
	return config.BackendConfig{Name: tb.name, Host: u.Hostname(), Port: port, Weight: weight}
}

// buildPipeline wires the same five stages in the same order as
// internal/gateway.New, so the test exercises the real chain rather than
// a stand-in. Only the round-robin and weighted-round-robin balancers and
// the token-bucket limiter are registered.
func buildPipeline(t *testing.T, cfg *config.Config) (*middleware.Pipeline, *backendpool.Registry, map[string]*circuitbreaker.CircuitBreaker, *selector.Ref[loadbalancer.Balancer], *selector.Ref[ratelimit.Limiter]) {
	t.Helper()
	log := zap.NewNop().Sugar()

	pool := backendpool.NewRegistry(cfg.Backends)
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Backends))
	for _, b := range cfg.Backends {
		breakers[b.Name] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			MonitorWindow:    cfg.CircuitBreaker.MonitorWindow,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
		})
	}

	rr := loadbalancer.NewRoundRobin()
	wrr := loadbalancer.NewWeightedRoundRobin()
	lbs := loadbalancer.NewRegistry(pool, rr, wrr)
	activeLB := selector.NewRef[loadbalancer.Balancer](rr)
	if initial, ok := lbs.Get(cfg.LoadBalancer.DefaultAlgoName); ok {
		activeLB.Store(initial)
	}

	tb := ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
		Capacity: cfg.RateLimit.TokenBucket.Capacity,
		Rate:     cfg.RateLimit.TokenBucket.Rate,
	})
	activeLimiter := selector.NewRef[ratelimit.Limiter](tb)

	m := metrics.New()

	pipeline := middleware.New(log,
		middleware.LoggerStage(log),
		middleware.CORSStage(cfg.CORS),
		middleware.RateLimitStage(activeLimiter, m),
		middleware.SelectStage(pool, activeLB, breakers, m),
		middleware.ProxyStage(cfg.GatewayVersion, cfg.UpstreamTimeout, m),
	)
	return pipeline, pool, breakers, activeLB, activeLimiter
}

func TestEndToEndRoundRobinSequence(t *testing.T) {
	a, b, c := newTestBackend(t, "a"), newTestBackend(t, "b"), newTestBackend(t, "c")
	defer a.srv.Close()
	defer b.srv.Close()
	defer c.srv.Close()

	cfg := config.Default()
	cfg.Backends = []config.BackendConfig{a.backendConfig(t, 1), b.backendConfig(t, 1), c.backendConfig(t, 1)}
	cfg.LoadBalancer.DefaultAlgoName = "round-robin"
	cfg.RateLimit.TokenBucket.Capacity = 100
	cfg.RateLimit.TokenBucket.Rate = 100

	pipeline, _, _, _, _ := buildPipeline(t, cfg)
	gw := httptest.NewServer(pipeline)
	defer gw.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	var seq []string
	for i := 0; i < 6; i++ {
		resp, err := client.Get(gw.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		seq = append(seq, resp.Header.Get("x-backend"))
		resp.Body.Close()
	}

	want := []string{"a", "b", "c", "a", "b", "c"}
	for i, name := range want {
		if seq[i] != name {
			t.Fatalf("position %d: want %s, got %s (full seq %v)", i, name, seq[i], seq)
		}
	}
}

func TestEndToEndWeightedRoundRobinDistribution(t *testing.T) {
	a, b, c := newTestBackend(t, "a"), newTestBackend(t, "b"), newTestBackend(t, "c")
	defer a.srv.Close()
	defer b.srv.Close()
	defer c.srv.Close()

	cfg := config.Default()
	cfg.Backends = []config.BackendConfig{a.backendConfig(t, 3), b.backendConfig(t, 2), c.backendConfig(t, 1)}
	cfg.LoadBalancer.DefaultAlgoName = "weighted-round-robin"
	cfg.RateLimit.TokenBucket.Capacity = 100
	cfg.RateLimit.TokenBucket.Rate = 100

	pipeline, _, _, _, _ := buildPipeline(t, cfg)
	gw := httptest.NewServer(pipeline)
	defer gw.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		resp, err := client.Get(gw.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		counts[resp.Header.Get("x-backend")]++
		resp.Body.Close()
	}

	if counts["a"] != 3 || counts["b"] != 2 || counts["c"] != 1 {
		t.Fatalf("distribution = %v, want a:3 b:2 c:1", counts)
	}
}

func TestEndToEndTokenBucketAllowsBurstThenDenies(t *testing.T) {
	a := newTestBackend(t, "a")
	defer a.srv.Close()

	cfg := config.Default()
	cfg.Backends = []config.BackendConfig{a.backendConfig(t, 1)}
	cfg.RateLimit.TokenBucket.Capacity = 20
	cfg.RateLimit.TokenBucket.Rate = 5

	pipeline, _, _, _, _ := buildPipeline(t, cfg)
	gw := httptest.NewServer(pipeline)
	defer gw.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	allowed := 0
	for i := 0; i < 20; i++ {
		resp, err := client.Get(gw.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode == http.StatusOK {
			allowed++
		}
		resp.Body.Close()
	}
	if allowed != 20 {
		t.Fatalf("expected all 20 burst requests allowed, got %d", allowed)
	}

	resp, err := client.Get(gw.URL)
	if err != nil {
		t.Fatalf("21st request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("21st request status = %d, want 429", resp.StatusCode)
	}
}

func TestEndToEndBreakerOpensAfterFailuresAndRecoversAfterResetTimeout(t *testing.T) {
	a := newTestBackend(t, "a")
	defer a.srv.Close()
	a.fail = true

	cfg := config.Default()
	cfg.Backends = []config.BackendConfig{a.backendConfig(t, 1)}
	cfg.CircuitBreaker.FailureThreshold = 3
	cfg.CircuitBreaker.ResetTimeout = 50 * time.Millisecond
	cfg.CircuitBreaker.MonitorWindow = 10 * time.Second
	cfg.RateLimit.TokenBucket.Capacity = 100
	cfg.RateLimit.TokenBucket.Rate = 100

	pipeline, _, breakers, _, _ := buildPipeline(t, cfg)
	gw := httptest.NewServer(pipeline)
	defer gw.Close()

	client := &http.Client{Timeout: 2 * time.Second}
	for i := 0; i < 3; i++ {
		resp, err := client.Get(gw.URL)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != http.StatusBadGateway && resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("request %d status = %d, want upstream failure forwarded", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	if breakers["a"].State() != circuitbreaker.Open {
		t.Fatalf("breaker state = %v, want OPEN after %d failures", breakers["a"].State(), cfg.CircuitBreaker.FailureThreshold)
	}

	resp, err := client.Get(gw.URL)
	if err != nil {
		t.Fatalf("request while open failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status while breaker open = %d, want 503", resp.StatusCode)
	}

	time.Sleep(cfg.CircuitBreaker.ResetTimeout + 20*time.Millisecond)
	a.fail = false

	resp, err = client.Get(gw.URL)
	if err != nil {
		t.Fatalf("probe request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("half-open probe status = %d, want 200", resp.StatusCode)
	}
	if breakers["a"].State() != circuitbreaker.Closed {
		t.Fatalf("breaker state after successful probe = %v, want CLOSED", breakers["a"].State())
	}
}
