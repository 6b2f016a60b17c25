package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket is the only one of the five algorithms that permits bursts
// up to Capacity. A fresh key starts full.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second
	clock    func() time.Time

	mu    sync.Mutex
	state map[string]*tokenBucketState
}

type tokenBucketState struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketConfig configures a TokenBucket limiter.
type TokenBucketConfig struct {
	Capacity float64
	Rate     float64
	Clock    func() time.Time
}

// NewTokenBucket builds a TokenBucket limiter.
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 20
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &TokenBucket{
		capacity: cfg.Capacity,
		rate:     cfg.Rate,
		clock:    cfg.Clock,
		state:    make(map[string]*tokenBucketState),
	}
}

func (t *TokenBucket) Name() string { return "token-bucket" }

func (t *TokenBucket) Consume(key string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	st, ok := t.state[key]
	if !ok {
		st = &tokenBucketState{tokens: t.capacity, lastRefill: now}
		t.state[key] = st
	}

	elapsed := now.Sub(st.lastRefill).Seconds()
	st.tokens += elapsed * t.rate
	if st.tokens > t.capacity {
		st.tokens = t.capacity
	}
	st.lastRefill = now

	limit := int(t.capacity)
	if st.tokens < 1 {
		retryAfter := int(math.Ceil((1 - st.tokens) / t.rate))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter}
	}

	st.tokens--
	return Decision{Allowed: true, Limit: limit, Remaining: int(math.Floor(st.tokens))}
}
