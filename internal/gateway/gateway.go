package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
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

// Gateway owns every long-lived component and the single HTTP listener
// that serves both the data plane (the proxy itself) and the control
// surface (health, hot-swap, reset) mounted under /gateway/*.
type Gateway struct {
	cfg *config.Config
	log *zap.SugaredLogger

	pool     *backendpool.Registry
	limiters *ratelimit.Registry
	lbs      *loadbalancer.Registry
	breakers map[string]*circuitbreaker.CircuitBreaker
	metrics  *metrics.Metrics
	pipeline *middleware.Pipeline

	activeLimiter *selector.Ref[ratelimit.Limiter]
	activeLB      *selector.Ref[loadbalancer.Balancer]
}

// New builds a Gateway from config, constructing every rate-limiting and
// load-balancing algorithm up front (hot-swap only ever switches which
// already-built instance is active, it never constructs on demand) and
// one circuit breaker per backend.
func New(cfg *config.Config, log *zap.SugaredLogger) (*Gateway, error) {
	pool := backendpool.NewRegistry(cfg.Backends)

	limiters := ratelimit.NewRegistry(
		ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{
			MaxRequests: cfg.RateLimit.FixedWindow.MaxRequests,
			Window:      cfg.RateLimit.FixedWindow.Window,
		}),
		ratelimit.NewSlidingLog(ratelimit.SlidingLogConfig{
			MaxRequests: cfg.RateLimit.SlidingLog.MaxRequests,
			Window:      cfg.RateLimit.SlidingLog.Window,
		}),
		ratelimit.NewSlidingCounter(ratelimit.SlidingCounterConfig{
			MaxRequests: cfg.RateLimit.SlidingCounter.MaxRequests,
			Window:      cfg.RateLimit.SlidingCounter.Window,
		}),
		ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
			Capacity: cfg.RateLimit.TokenBucket.Capacity,
			Rate:     cfg.RateLimit.TokenBucket.Rate,
		}),
		ratelimit.NewLeakyBucket(ratelimit.LeakyBucketConfig{
			Capacity: cfg.RateLimit.LeakyBucket.Capacity,
			LeakRate: cfg.RateLimit.LeakyBucket.Rate,
		}),
	)
	defaultLimiter, ok := limiters.Get(cfg.RateLimit.DefaultAlgoName)
	if !ok {
		return nil, ratelimit.ErrUnknownLimiter(cfg.RateLimit.DefaultAlgoName)
	}

	lbs := loadbalancer.NewRegistry(pool,
		loadbalancer.NewRoundRobin(),
		loadbalancer.NewWeightedRoundRobin(),
		loadbalancer.NewLeastConnections(),
		loadbalancer.NewIPHash(),
		loadbalancer.NewConsistentHash(cfg.LoadBalancer.ConsistentHashVNodes),
	)
	defaultLB, ok := lbs.Get(cfg.LoadBalancer.DefaultAlgoName)
	if !ok {
		return nil, loadbalancer.ErrUnknownBalancer(cfg.LoadBalancer.DefaultAlgoName)
	}

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Backends))
	for _, b := range cfg.Backends {
		breakers[b.Name] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			MonitorWindow:    cfg.CircuitBreaker.MonitorWindow,
			ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
			HalfOpenMax:      cfg.CircuitBreaker.HalfOpenMax,
		})
	}

	m := metrics.New()
	for _, b := range cfg.Backends {
		backend, _ := pool.Get(b.Name)
		m.SetBackendHealth(b.Name, backend.Healthy())
	}

	activeLimiter := selector.NewRef[ratelimit.Limiter](defaultLimiter)
	activeLB := selector.NewRef[loadbalancer.Balancer](defaultLB)

	pipeline := middleware.New(log,
		middleware.LoggerStage(log),
		middleware.CORSStage(cfg.CORS),
		middleware.RateLimitStage(activeLimiter, m),
		middleware.SelectStage(pool, activeLB, breakers, m),
		middleware.ProxyStage(cfg.GatewayVersion, cfg.UpstreamTimeout, m),
	)

	return &Gateway{
		cfg:           cfg,
		log:           log,
		pool:          pool,
		limiters:      limiters,
		lbs:           lbs,
		breakers:      breakers,
		metrics:       m,
		pipeline:      pipeline,
		activeLimiter: activeLimiter,
		activeLB:      activeLB,
	}, nil
}

// combinedHandler dispatches /gateway/* to the control surface and
// everything else to the data-plane pipeline, so one listener serves
// both.
type combinedHandler struct {
	control http.Handler
	data    http.Handler
}

func (h combinedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/gateway/") {
		h.control.ServeHTTP(w, r)
		return
	}
	h.data.ServeHTTP(w, r)
}

// Start runs the single data-plane-plus-control-surface listener until
// ctx is canceled, then shuts it down gracefully. The listen error is
// funneled back through a buffered channel so the caller sees startup
// failures and clean shutdowns alike.
func (g *Gateway) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: combinedHandler{control: g.controlMux(), data: g.pipeline},
	}

	errCh := make(chan error, 1)
	go func() {
		g.log.Infow("gateway listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway server error: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return <-errCh
}
