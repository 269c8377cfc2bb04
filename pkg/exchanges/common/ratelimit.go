package common

import (
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks API weight usage reported by the exchange so callers can
// back off before the exchange starts rejecting.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a weight tracker.
// limit: maximum weight allowed (e.g. 1200/min for Binance spot)
// resetInterval: the exchange's accounting window
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight from a response header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight
}

// Usage returns used weight and the limit.
func (rl *RateLimiter) Usage() (used, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit
	}
	return rl.usedWeight, rl.limit
}

// NearLimit reports whether usage is above 90% of the allowance.
func (rl *RateLimiter) NearLimit() bool {
	used, limit := rl.Usage()
	return limit > 0 && used*10 >= limit*9
}
