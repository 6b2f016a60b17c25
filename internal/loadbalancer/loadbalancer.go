// Package loadbalancer implements the five load-balancing algorithms
// behind a single interface. All implementations are goroutine-safe and
// observe backend health changes without a restart.
package loadbalancer

import (
	"fmt"
	"sync"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
	gwerrors "github.com/arclight-labs/gatewaylb/internal/errors"
)

// Balancer selects a backend for a request. Select must return only
// healthy backends; if none are healthy it returns (nil, false).
// Completed and UpdateBackends are optional no-ops for algorithms that
// don't need them.
type Balancer interface {
	Name() string
	Select(clientKey string) (*backendpool.Backend, bool)
	Completed(b *backendpool.Backend)
	UpdateBackends(all []*backendpool.Backend)
}

// baseBalancer gives every algorithm a no-op Completed so only
// least-connections needs to override it.
type baseBalancer struct{}

func (baseBalancer) Completed(*backendpool.Backend) {}

// Registry maps algorithm name to instance, used by the control surface's
// hot-swap endpoint (POST /gateway/load-balancer/{name}).
type Registry struct {
	mu        sync.RWMutex
	balancers map[string]Balancer
}

// NewRegistry builds a Registry and wires every balancer to the backend
// registry's change notifications so each rebuilds its derived state
// (weighted list, hash ring) when health flags change.
func NewRegistry(pool *backendpool.Registry, balancers ...Balancer) *Registry {
	m := make(map[string]Balancer, len(balancers))
	for _, b := range balancers {
		m[b.Name()] = b
		b.UpdateBackends(pool.All())
	}
	r := &Registry{balancers: m}
	pool.OnChange(func(all []*backendpool.Backend) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, b := range r.balancers {
			b.UpdateBackends(all)
		}
	})
	return r
}

// Get looks a balancer up by name.
func (r *Registry) Get(name string) (Balancer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.balancers[name]
	return b, ok
}

// Names returns the registered algorithm names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.balancers))
	for name := range r.balancers {
		names = append(names, name)
	}
	return names
}

// ErrUnknownBalancer is returned when a name isn't registered.
func ErrUnknownBalancer(name string) error {
	return gwerrors.New(gwerrors.CodeUnknownAlgorithm, fmt.Sprintf("unknown load balancer algorithm %q", name))
}

func healthyOf(all []*backendpool.Backend) []*backendpool.Backend {
	out := make([]*backendpool.Backend, 0, len(all))
	for _, b := range all {
		if b.Healthy() {
			out = append(out, b)
		}
	}
	return out
}
