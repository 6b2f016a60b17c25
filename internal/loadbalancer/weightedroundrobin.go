package loadbalancer

import (
	"sync"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
)

// WeightedRoundRobin cycles through an expanded list in which each
// healthy backend appears weight-many times, so weights {3,2,1} yield the
// pick sequence a,a,a,b,b,c. The list is rebuilt whenever the backend set
// or its healthy flags change, which resets the cycle position.
type WeightedRoundRobin struct {
	baseBalancer

	mu       sync.Mutex
	expanded []*backendpool.Backend
	next     int
}

// NewWeightedRoundRobin builds a WeightedRoundRobin balancer.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{}
}

func (w *WeightedRoundRobin) Name() string { return "weighted-round-robin" }

func (w *WeightedRoundRobin) Select(_ string) (*backendpool.Backend, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// A backend can flip unhealthy between the rebuild and this pick;
	// skip its remaining slots rather than hand it out.
	for i := 0; i < len(w.expanded); i++ {
		b := w.expanded[w.next%len(w.expanded)]
		w.next++
		if b.Healthy() {
			return b, true
		}
	}
	return nil, false
}

func (w *WeightedRoundRobin) UpdateBackends(all []*backendpool.Backend) {
	w.mu.Lock()
	defer w.mu.Unlock()

	expanded := make([]*backendpool.Backend, 0, len(all))
	for _, b := range all {
		if !b.Healthy() {
			continue
		}
		for i := 0; i < b.Weight; i++ {
			expanded = append(expanded, b)
		}
	}
	w.expanded = expanded
	w.next = 0
}
