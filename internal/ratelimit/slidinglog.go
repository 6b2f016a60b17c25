package ratelimit

import (
	"math"
	"sync"
	"time"
)

// SlidingLog keeps an ordered sequence of request timestamps per key and
// admits a request only if fewer than MaxRequests remain within the
// trailing Window. Memory is O(R) per key, where R is the number of
// requests retained in the window. It is the one algorithm among the
// five whose per-key footprint isn't O(1).
type SlidingLog struct {
	maxRequests int
	window      time.Duration
	clock       func() time.Time

	mu    sync.Mutex
	state map[string][]time.Time
}

// SlidingLogConfig configures a SlidingLog limiter.
type SlidingLogConfig struct {
	MaxRequests int
	Window      time.Duration
	Clock       func() time.Time
}

// NewSlidingLog builds a SlidingLog limiter.
func NewSlidingLog(cfg SlidingLogConfig) *SlidingLog {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SlidingLog{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		clock:       cfg.Clock,
		state:       make(map[string][]time.Time),
	}
}

func (s *SlidingLog) Name() string { return "sliding-log" }

func (s *SlidingLog) Consume(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cutoff := now.Add(-s.window)

	log := s.state[key]
	retained := log[:0]
	for _, ts := range log {
		if ts.After(cutoff) {
			retained = append(retained, ts)
		}
	}

	if len(retained) >= s.maxRequests {
		oldest := retained[0]
		retryAfter := int(math.Ceil(oldest.Add(s.window).Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		s.state[key] = retained
		return Decision{Allowed: false, Limit: s.maxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	retained = append(retained, now)
	s.state[key] = retained
	return Decision{Allowed: true, Limit: s.maxRequests, Remaining: s.maxRequests - len(retained)}
}
