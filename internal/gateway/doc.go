/*
Package gateway wires the gatewaylb components into a running API
gateway.

# Architecture Overview

Every request flows through one fixed pipeline:

	┌──────────┐   ┌──────┐   ┌─────────────┐   ┌────────┐   ┌───────┐
	│  Logger  │-->│ CORS │-->│ Rate Limit  │-->│ Select │-->│ Proxy │
	└──────────┘   └──────┘   └─────────────┘   └────────┘   └───────┘

Select consults the active load balancer and, per candidate, that
backend's circuit breaker; Proxy streams the request upstream and maps
the outcome back onto the breaker and the balancer's completion hook.

Key Components:

 1. Gateway Core (gateway.go)
    Builds every rate-limiting and load-balancing algorithm and one
    circuit breaker per backend at startup, then runs a single listener
    serving both the data plane and the control surface until its
    context is canceled.

 2. Control Surface (control.go)
    GET /gateway/health returns a full snapshot: active algorithms,
    pipeline stage order, per-backend health/weight/circuit state, and
    aggregate metrics. POST endpoints hot-swap the active rate limiter
    or load balancer, toggle or drain a backend, reset a breaker, and
    reset metrics. GET /gateway/metrics/prometheus mounts the
    Prometheus exposition format.

Failure Scenarios and Recovery:

 1. Backend Failure
    Detection: upstream 5xx or transport error during proxy.
    Action: breaker records a failure; after failureThreshold failures
    within monitorWindow, the breaker opens and the select stage skips
    that backend.
    Recovery: after resetTimeout, the breaker admits halfOpenMax probes;
    a success closes it again.

 2. Rate Limit Exceeded
    Action: 429 with Retry-After, scoped to the offending client key
    only; other clients are unaffected.

 3. All Backends Refused
    Action: 503 naming every breaker's current state, so an operator can
    tell a circuit-open outage from a config error.

Usage Example:

	cfg := config.Default()
	log, _ := logging.New()
	gw, err := gateway.New(cfg, log)
	if err != nil {
	    panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := gw.Start(ctx, ":4000"); err != nil {
	    panic(err)
	}
*/
package gateway
