package ratelimit

import (
	"math"
	"sync"
	"time"
)

// FixedWindow partitions time into aligned windows of length Window and
// counts requests per (key, window index). It has the classic boundary-
// burst weakness (a client can send MaxRequests at the end of one window
// and MaxRequests again at the start of the next, doubling its effective
// rate over a short span). The sliding variants exist to close exactly
// that gap; this one keeps the cheap arithmetic.
type FixedWindow struct {
	maxRequests int
	window      time.Duration
	clock       func() time.Time

	mu    sync.Mutex
	state map[string]*fixedWindowState
}

type fixedWindowState struct {
	index  int64
	count  int
	expiry time.Time
}

// FixedWindowConfig configures a FixedWindow limiter.
type FixedWindowConfig struct {
	MaxRequests int
	Window      time.Duration
	Clock       func() time.Time // defaults to time.Now; tests may override
}

// NewFixedWindow builds a FixedWindow limiter.
func NewFixedWindow(cfg FixedWindowConfig) *FixedWindow {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &FixedWindow{
		maxRequests: cfg.MaxRequests,
		window:      cfg.Window,
		clock:       cfg.Clock,
		state:       make(map[string]*fixedWindowState),
	}
}

func (f *FixedWindow) Name() string { return "fixed-window" }

func (f *FixedWindow) Consume(key string) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock()
	index := now.UnixNano() / int64(f.window)

	st, ok := f.state[key]
	if !ok || st.index != index {
		st = &fixedWindowState{
			index:  index,
			count:  0,
			expiry: time.Unix(0, (index+1)*int64(f.window)),
		}
		f.state[key] = st
	}

	st.count++
	if st.count > f.maxRequests {
		retryAfter := int(math.Ceil(st.expiry.Sub(now).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: f.maxRequests, Remaining: 0, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true, Limit: f.maxRequests, Remaining: f.maxRequests - st.count}
}
