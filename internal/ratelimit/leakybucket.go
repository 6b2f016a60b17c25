package ratelimit

import (
	"math"
	"sync"
	"time"
)

// LeakyBucket models a queue that drains at LeakRate per second; a request
// is admitted while the drained queue size is below Capacity, and then
// adds one unit to the queue.
type LeakyBucket struct {
	capacity float64
	leakRate float64 // units per second
	clock    func() time.Time

	mu    sync.Mutex
	state map[string]*leakyBucketState
}

type leakyBucketState struct {
	queueSize float64
	lastLeak  time.Time
}

// LeakyBucketConfig configures a LeakyBucket limiter.
type LeakyBucketConfig struct {
	Capacity float64
	LeakRate float64
	Clock    func() time.Time
}

// NewLeakyBucket builds a LeakyBucket limiter.
func NewLeakyBucket(cfg LeakyBucketConfig) *LeakyBucket {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 20
	}
	if cfg.LeakRate <= 0 {
		cfg.LeakRate = 5
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &LeakyBucket{
		capacity: cfg.Capacity,
		leakRate: cfg.LeakRate,
		clock:    cfg.Clock,
		state:    make(map[string]*leakyBucketState),
	}
}

func (l *LeakyBucket) Name() string { return "leaky-bucket" }

func (l *LeakyBucket) Consume(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	st, ok := l.state[key]
	if !ok {
		st = &leakyBucketState{queueSize: 0, lastLeak: now}
		l.state[key] = st
	}

	elapsed := now.Sub(st.lastLeak).Seconds()
	st.queueSize -= elapsed * l.leakRate
	if st.queueSize < 0 {
		st.queueSize = 0
	}
	st.lastLeak = now

	limit := int(l.capacity)
	if st.queueSize >= l.capacity {
		retryAfter := int(math.Ceil((st.queueSize - l.capacity + 1) / l.leakRate))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retryAfter}
	}

	st.queueSize++
	return Decision{Allowed: true, Limit: limit, Remaining: int(math.Floor(l.capacity - st.queueSize))}
}
