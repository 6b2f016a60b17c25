package loadbalancer

import (
	"sync"
	"sync/atomic"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
)

// RoundRobin cycles through the healthy set via a monotonic counter,
// ignoring weight.
type RoundRobin struct {
	baseBalancer
	counter atomic.Uint64

	mu      sync.RWMutex
	healthy []*backendpool.Backend
}

// NewRoundRobin builds a RoundRobin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Name() string { return "round-robin" }

func (r *RoundRobin) Select(_ string) (*backendpool.Backend, bool) {
	r.mu.RLock()
	healthy := r.healthy
	r.mu.RUnlock()

	if len(healthy) == 0 {
		return nil, false
	}
	idx := r.counter.Add(1) - 1
	return healthy[idx%uint64(len(healthy))], true
}

func (r *RoundRobin) UpdateBackends(all []*backendpool.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = healthyOf(all)
}
