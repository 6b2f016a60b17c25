package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
	"github.com/arclight-labs/gatewaylb/internal/circuitbreaker"
	"github.com/arclight-labs/gatewaylb/internal/loadbalancer"
	"github.com/arclight-labs/gatewaylb/internal/metrics"
	"github.com/arclight-labs/gatewaylb/internal/selector"
)

// SelectStage asks the active load balancer for a candidate, then
// consults that candidate's breaker, retrying up to len(backends) times
// if the breaker refuses.
//
// A stateless balancer (IP-hash, consistent-hash) returns the same
// backend deterministically for a given client key, so simply re-invoking
// Select on refusal would spin forever without making progress. Once a
// candidate has been refused, the stage stops asking the balancer and
// instead walks the registry's remaining healthy-but-unrefused backends
// directly, skipping over what's already known to be refused.
//
// Every balancer Select that returned a backend is paired with exactly
// one Completed call: refused candidates are released here, and the
// admitted candidate's release is registered on the Context for the
// proxy stage (and the pipeline driver's backstop) to run.
func SelectStage(pool *backendpool.Registry, activeLB *selector.Ref[loadbalancer.Balancer], breakers map[string]*circuitbreaker.CircuitBreaker, m *metrics.Metrics) Stage {
	return Stage{
		Name: "select",
		Handler: func(ctx *Context, next Next) {
			lb := activeLB.Load()
			healthy := pool.Healthy()
			refused := make(map[string]bool, len(healthy))
			deterministicallyStuck := false

			for attempt := 0; attempt < len(pool.All()); attempt++ {
				var candidate *backendpool.Backend
				fromBalancer := false

				if !deterministicallyStuck {
					selected, ok := lb.Select(ctx.ClientKey)
					if !ok {
						break
					}
					if refused[selected.Name] {
						// Release the duplicate selection's side effect
						// before falling back to a direct registry walk.
						lb.Completed(selected)
						deterministicallyStuck = true
					} else {
						candidate = selected
						fromBalancer = true
					}
				}
				if deterministicallyStuck {
					candidate = firstUnrefused(healthy, refused)
					if candidate == nil {
						break
					}
				}

				breaker := breakers[candidate.Name]
				if breaker != nil && breaker.CanRequest() {
					ctx.Backend = candidate
					ctx.Breaker = breaker
					ctx.Balancer = lb
					if fromBalancer {
						admitted := candidate
						ctx.SetCompletion(func() { lb.Completed(admitted) })
					}
					ctx.Meta["backend"] = candidate.Name
					ctx.Meta["lbAlgorithm"] = lb.Name()
					ctx.Meta["circuitState"] = breaker.State().String()
					next()
					return
				}
				if fromBalancer {
					lb.Completed(candidate)
				}
				refused[candidate.Name] = true
			}

			m.IncrCircuitBroken()
			writeAllBreakersRefused(ctx.Writer, breakers)
		},
	}
}

func firstUnrefused(healthy []*backendpool.Backend, refused map[string]bool) *backendpool.Backend {
	for _, b := range healthy {
		if !refused[b.Name] {
			return b
		}
	}
	return nil
}

func writeAllBreakersRefused(w *statusWriter, breakers map[string]*circuitbreaker.CircuitBreaker) {
	states := make(map[string]string, len(breakers))
	for name, b := range breakers {
		states[name] = b.State().String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    "no backend available",
		"breakers": states,
	})
}
