// Package ratelimit implements the five rate-limiting algorithms behind a
// single interface. Each algorithm owns an independent, concurrency-safe
// per-key map; none share state with another.
package ratelimit

import (
	"fmt"
	"sync"

	gwerrors "github.com/arclight-labs/gatewaylb/internal/errors"
)

// Decision is the outcome of a single Consume call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // whole seconds; only meaningful when !Allowed
}

// Limiter decides admit/deny for a client key. Consume must be safe to
// call concurrently and must never block on I/O.
type Limiter interface {
	// Name is the algorithm's registry key, also surfaced in the
	// X-RateLimit-Algorithm response header.
	Name() string
	Consume(key string) Decision
}

// Registry maps algorithm name to instance, used by the control surface's
// hot-swap endpoint (POST /gateway/rate-limiter/{name}).
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewRegistry builds a Registry from a fixed set of limiters.
func NewRegistry(limiters ...Limiter) *Registry {
	m := make(map[string]Limiter, len(limiters))
	for _, l := range limiters {
		m[l.Name()] = l
	}
	return &Registry{limiters: m}
}

// Get looks a limiter up by name.
func (r *Registry) Get(name string) (Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Names returns the registered algorithm names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	return names
}

// ErrUnknownLimiter is returned when a name isn't registered.
func ErrUnknownLimiter(name string) error {
	return gwerrors.New(gwerrors.CodeUnknownAlgorithm, fmt.Sprintf("unknown rate limiter algorithm %q", name))
}
