package ratelimit

import (
	"math"
	"sync"
	"time"
)

// SlidingCounter approximates a sliding window using two aligned fixed
// windows (current and previous) and a weighted estimate, avoiding both
// the fixed-window boundary-burst problem and the sliding-log's O(R)
// memory.
type SlidingCounter struct {
	maxRequests int
	window      time.Duration
	clock       func() time.Time

	mu    sync.Mutex
	state map[string]*slidingCounterState
}

type slidingCounterState struct {
	currentIndex int64
	currentCount int
	prevCount    int
}

// SlidingCounterConfig configures a SlidingCounter limiter.
type SlidingCounterConfig struct {
	MaxRequests int
	Window      time.Duration
	Clock       func() time.Time
}

// NewSlidingCounter builds a SlidingCounter limiter.
func NewSlidingCounter(cfg SlidingCounterConfig) *SlidingCounter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SlidingCounter{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		clock:       cfg.Clock,
		state:       make(map[string]*slidingCounterState),
	}
}

func (s *SlidingCounter) Name() string { return "sliding-counter" }

func (s *SlidingCounter) Consume(key string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	index := now.UnixNano() / int64(s.window)
	currentStart := time.Unix(0, index*int64(s.window))

	st, ok := s.state[key]
	if !ok {
		st = &slidingCounterState{currentIndex: index}
		s.state[key] = st
	} else if st.currentIndex != index {
		if st.currentIndex == index-1 {
			st.prevCount = st.currentCount
		} else {
			st.prevCount = 0
		}
		st.currentIndex = index
		st.currentCount = 0
	}

	elapsed := now.Sub(currentStart).Seconds()
	windowSecs := s.window.Seconds()
	prevWeight := 1 - elapsed/windowSecs
	if prevWeight < 0 {
		prevWeight = 0
	}

	estimate := int(math.Floor(float64(st.prevCount)*prevWeight)) + st.currentCount

	if estimate >= s.maxRequests {
		retryAfter := int(math.Ceil((windowSecs - elapsed)))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: s.maxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	st.currentCount++
	remaining := s.maxRequests - estimate - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: s.maxRequests, Remaining: remaining}
}
