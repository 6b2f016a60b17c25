package loadbalancer

import (
	"sync"

	"github.com/arclight-labs/gatewaylb/internal/backendpool"
)

// IPHash deterministically maps a client key to a backend via a simple
// char-rolling polynomial hash, reduced modulo the healthy count. Same
// client key always lands on the same backend as long as the healthy set
// is unchanged; it carries no state beyond the current backend list.
type IPHash struct {
	baseBalancer

	mu      sync.RWMutex
	healthy []*backendpool.Backend
}

// NewIPHash builds an IPHash balancer.
func NewIPHash() *IPHash {
	return &IPHash{}
}

func (h *IPHash) Name() string { return "ip-hash" }

func (h *IPHash) Select(clientKey string) (*backendpool.Backend, bool) {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	if len(healthy) == 0 {
		return nil, false
	}
	idx := rollingHash(clientKey) % uint32(len(healthy))
	return healthy[idx], true
}

func (h *IPHash) UpdateBackends(all []*backendpool.Backend) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy = healthyOf(all)
}

// rollingHash is a char-rolling polynomial hash:
// h = ((h<<5) - h) + c, wrapped to 32 bits (equivalent to h*31 + c, the
// classic Java-string-hash recurrence).
func rollingHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = (h << 5) - h + uint32(s[i])
	}
	return h
}
