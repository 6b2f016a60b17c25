// Package metrics maintains the gateway's in-process counters, both as
// Prometheus collectors (for scraping) and as a plain-struct snapshot
// (for the JSON control surface).
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's counters. The atomic fields back the JSON
// snapshot exactly; the Prometheus collectors are incremented alongside
// them so both views stay consistent without reading Prometheus's
// internal state back out.
type Metrics struct {
	totalRequests atomic.Uint64
	rateLimited   atomic.Uint64
	circuitBroken atomic.Uint64
	proxied       atomic.Uint64
	errors        atomic.Uint64

	mu        sync.Mutex
	byBackend map[string]uint64

	promTotalRequests prometheus.Counter
	promRateLimited   prometheus.Counter
	promCircuitBroken prometheus.Counter
	promProxied       prometheus.Counter
	promErrors        prometheus.Counter
	promByBackend     *prometheus.CounterVec
	promResponseTime  *prometheus.HistogramVec
	promBackendHealth *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New builds a Metrics instance backed by its own Prometheus registry
// rather than the process-wide default, so the gateway (and its tests)
// can build more than one Metrics without a duplicate-registration
// panic.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	fac := promauto.With(reg)

	return &Metrics{
		byBackend: make(map[string]uint64),
		registry:  reg,

		promTotalRequests: fac.NewCounter(prometheus.CounterOpts{
			Name: "gatewaylb_requests_total",
			Help: "Total requests that reached the rate-limit stage or later.",
		}),
		promRateLimited: fac.NewCounter(prometheus.CounterOpts{
			Name: "gatewaylb_rate_limited_total",
			Help: "Requests denied by the active rate limiter.",
		}),
		promCircuitBroken: fac.NewCounter(prometheus.CounterOpts{
			Name: "gatewaylb_circuit_broken_total",
			Help: "Requests refused because every backend's breaker refused.",
		}),
		promProxied: fac.NewCounter(prometheus.CounterOpts{
			Name: "gatewaylb_proxied_total",
			Help: "Requests successfully forwarded to a backend.",
		}),
		promErrors: fac.NewCounter(prometheus.CounterOpts{
			Name: "gatewaylb_errors_total",
			Help: "Upstream transport errors and timeouts.",
		}),
		promByBackend: fac.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewaylb_backend_requests_total",
			Help: "Requests proxied to each backend.",
		}, []string{"backend"}),
		promResponseTime: fac.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatewaylb_response_time_seconds",
			Help:    "Upstream response time distribution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		promBackendHealth: fac.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatewaylb_backend_health",
			Help: "Health status of each backend (1 healthy, 0 unhealthy).",
		}, []string{"backend"}),
	}
}

// Registry returns the Prometheus registry backing this instance, mounted
// by the gateway at GET /gateway/metrics/prometheus via promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrTotalRequests records a request reaching the rate-limit stage.
func (m *Metrics) IncrTotalRequests() {
	m.totalRequests.Add(1)
	m.promTotalRequests.Inc()
}

// IncrRateLimited records a 429.
func (m *Metrics) IncrRateLimited() {
	m.rateLimited.Add(1)
	m.promRateLimited.Inc()
}

// IncrCircuitBroken records a 503 from the select stage.
func (m *Metrics) IncrCircuitBroken() {
	m.circuitBroken.Add(1)
	m.promCircuitBroken.Inc()
}

// IncrProxied records a successfully forwarded request and attributes it
// to the chosen backend.
func (m *Metrics) IncrProxied(backend string, responseTimeSeconds float64) {
	m.proxied.Add(1)
	m.promProxied.Inc()

	m.mu.Lock()
	m.byBackend[backend]++
	m.mu.Unlock()

	m.promByBackend.WithLabelValues(backend).Inc()
	m.promResponseTime.WithLabelValues(backend).Observe(responseTimeSeconds)
}

// IncrErrors records an upstream transport error or timeout.
func (m *Metrics) IncrErrors() {
	m.errors.Add(1)
	m.promErrors.Inc()
}

// SetBackendHealth updates the gauge used by the Prometheus exposition.
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.promBackendHealth.WithLabelValues(backend).Set(v)
}

// Snapshot is the JSON-serializable view returned by GET /gateway/health.
type Snapshot struct {
	TotalRequests uint64            `json:"totalRequests"`
	RateLimited   uint64            `json:"rateLimited"`
	CircuitBroken uint64            `json:"circuitBroken"`
	Proxied       uint64            `json:"proxied"`
	Errors        uint64            `json:"errors"`
	ByBackend     map[string]uint64 `json:"byBackend"`
}

// Snapshot returns a point-in-time copy of the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	byBackend := make(map[string]uint64, len(m.byBackend))
	for k, v := range m.byBackend {
		byBackend[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		TotalRequests: m.totalRequests.Load(),
		RateLimited:   m.rateLimited.Load(),
		CircuitBroken: m.circuitBroken.Load(),
		Proxied:       m.proxied.Load(),
		Errors:        m.errors.Load(),
		ByBackend:     byBackend,
	}
}

// Reset zeroes every counter, per POST /gateway/metrics/reset. The
// Prometheus collectors are monotonic by design (Prometheus convention is
// that counters never go backwards mid-process) so only the JSON-facing
// atomics and map are cleared; the reset is visible in the next
// /gateway/health snapshot.
func (m *Metrics) Reset() {
	m.totalRequests.Store(0)
	m.rateLimited.Store(0)
	m.circuitBroken.Store(0)
	m.proxied.Store(0)
	m.errors.Store(0)

	m.mu.Lock()
	m.byBackend = make(map[string]uint64)
	m.mu.Unlock()
}
