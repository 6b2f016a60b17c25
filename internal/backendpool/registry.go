// Package backendpool holds the fixed, ordered pool of upstream targets.
// Identity (name/host/port/weight) is immutable once the registry is
// built; the healthy flag and active-connection count are the only
// mutable per-backend state, and both are safe for concurrent access.
package backendpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arclight-labs/gatewaylb/internal/config"
	gwerrors "github.com/arclight-labs/gatewaylb/internal/errors"
)

// Backend is one interchangeable upstream service instance.
type Backend struct {
	Name   string
	Host   string
	Port   int
	Weight int

	healthy     atomic.Bool
	activeConns atomic.Int64
}

// Authority returns the host:port this backend is reached at.
func (b *Backend) Authority() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Healthy reports the current healthy flag.
func (b *Backend) Healthy() bool { return b.healthy.Load() }

// SetHealthy flips the healthy flag.
func (b *Backend) SetHealthy(v bool) { b.healthy.Store(v) }

// ActiveConns reports the current active-connection count.
func (b *Backend) ActiveConns() int64 { return b.activeConns.Load() }

// IncrActive increments the active-connection count. Paired with
// DecrActive by load balancers that track in-flight requests
// (least-connections); the drain helper only reads the count.
func (b *Backend) IncrActive() { b.activeConns.Add(1) }

// DecrActive decrements the active-connection count, clamped at zero.
func (b *Backend) DecrActive() {
	for {
		cur := b.activeConns.Load()
		if cur <= 0 {
			return
		}
		if b.activeConns.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Registry is the fixed ordered list of backends, built once at startup
// and never destroyed. UpdateHook subscribers are notified whenever a
// healthy flag changes, so load balancers can rebuild derived state
// (weighted lists, hash rings).
type Registry struct {
	mu       sync.RWMutex
	backends []*Backend
	byName   map[string]*Backend
	hooks    []func([]*Backend)
}

// NewRegistry builds a Registry from configuration.
func NewRegistry(cfgs []config.BackendConfig) *Registry {
	r := &Registry{byName: make(map[string]*Backend, len(cfgs))}
	backends := make([]*Backend, 0, len(cfgs))
	for _, c := range cfgs {
		weight := c.Weight
		if weight <= 0 {
			weight = 1
		}
		b := &Backend{Name: c.Name, Host: c.Host, Port: c.Port, Weight: weight}
		b.healthy.Store(true)
		backends = append(backends, b)
		r.byName[b.Name] = b
	}
	r.backends = backends
	return r
}

// All returns the full backend list, in registration order. The slice
// itself is never mutated after construction, only the elements' mutable
// fields, so callers may range over it without a lock.
func (r *Registry) All() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends
}

// Healthy returns only the backends currently flagged healthy.
func (r *Registry) Healthy() []*Backend {
	all := r.All()
	out := make([]*Backend, 0, len(all))
	for _, b := range all {
		if b.Healthy() {
			out = append(out, b)
		}
	}
	return out
}

// Get looks a backend up by name.
func (r *Registry) Get(name string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// OnChange registers a hook invoked after any Toggle call. Load balancers
// use this to rebuild weighted lists and hash rings.
func (r *Registry) OnChange(hook func([]*Backend)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
}

// Toggle flips a backend's healthy flag and fires registered hooks.
func (r *Registry) Toggle(name string) (*Backend, error) {
	b, ok := r.Get(name)
	if !ok {
		return nil, gwerrors.New(gwerrors.CodeBackendNotFound, fmt.Sprintf("backend %q not found", name))
	}
	b.SetHealthy(!b.Healthy())
	r.notify()
	return b, nil
}

// SetHealthy pins a backend's healthy flag to a specific value and fires
// registered hooks. Used by the drain path, which must stop new
// selections before it starts waiting for in-flight ones.
func (r *Registry) SetHealthy(name string, v bool) (*Backend, error) {
	b, ok := r.Get(name)
	if !ok {
		return nil, gwerrors.New(gwerrors.CodeBackendNotFound, fmt.Sprintf("backend %q not found", name))
	}
	b.SetHealthy(v)
	r.notify()
	return b, nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	hooks := r.hooks
	all := r.backends
	r.mu.RUnlock()
	for _, h := range hooks {
		h(all)
	}
}

// Drain marks a backend unhealthy (if it isn't already) and blocks until
// its active-connection count reaches zero or the timeout elapses,
// polling at the given interval. It sets the flag on the Backend only and
// fires no registry hooks, so balancers that cache a healthy list keep
// selecting the backend until Registry.SetHealthy or Toggle notifies
// them. The count it waits on is the one least-connections maintains;
// requests routed by other balancers are not counted.
func Drain(ctx context.Context, b *Backend, interval, timeout time.Duration) error {
	b.SetHealthy(false)

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if b.ActiveConns() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if timeout > 0 && now.After(deadline) {
				return fmt.Errorf("drain of backend %q timed out with %d active connections", b.Name, b.ActiveConns())
			}
		}
	}
}
