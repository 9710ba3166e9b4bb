package ratelimit

import (
	"sync"
	"time"
)

type RateLimit interface {
	Allow(addr string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter allows up to maxRequests per address within each window.
type FixedWindowLimiter struct {
	maxRequests int
	interval    time.Duration
	windows     map[string]*window
	mutex       sync.Mutex
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		interval:    interval,
		windows:     make(map[string]*window),
	}
}

func (rl *FixedWindowLimiter) Allow(addr string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	w := rl.windows[addr]

	if w == nil || now.Sub(w.start) > rl.interval {
		if rl.maxRequests == 0 {
			return false
		}

		rl.windows[addr] = &window{count: 1, start: now}

		// Expired windows for other addresses accumulate otherwise
		rl.prune(now)

		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++

	return true
}

func (rl *FixedWindowLimiter) prune(now time.Time) {
	for addr, w := range rl.windows {
		if now.Sub(w.start) > rl.interval {
			delete(rl.windows, addr)
		}
	}
}
