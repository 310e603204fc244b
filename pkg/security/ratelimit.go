package security

import (
	"sync"
	"time"
)

// rateLimiter is a per-client token bucket. Buckets refill continuously at
// the per-minute rate and hold at most burst tokens.
type rateLimiter struct {
	perMinute int
	burst     int

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time // swapped in tests
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		perMinute: cfg.PerMinute,
		burst:     cfg.Burst,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// allow consumes one token for the client, reporting false when the bucket
// is empty. A non-positive rate disables limiting entirely.
func (rl *rateLimiter) allow(client string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), last: now}
		rl.buckets[client] = b
	}

	refill := now.Sub(b.last).Seconds() * float64(rl.perMinute) / 60.0
	b.tokens += refill
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
