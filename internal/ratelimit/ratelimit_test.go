package ratelimit

import (
	"testing"
	"time"
)

func TestFixedWindowLimiter_AllowsUpToLimit(t *testing.T) {
	rl := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	if rl.Allow("10.0.0.1") {
		t.Error("Fourth request in window should be denied")
	}
}

func TestFixedWindowLimiter_AddressesIndependent(t *testing.T) {
	rl := New(1, time.Minute)

	if !rl.Allow("10.0.0.1") {
		t.Error("First address should be allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Second address should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("First address should now be denied")
	}
}

func TestFixedWindowLimiter_WindowResets(t *testing.T) {
	rl := New(1, 10*time.Millisecond)

	if !rl.Allow("10.0.0.1") {
		t.Error("First request should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Second request in window should be denied")
	}

	time.Sleep(15 * time.Millisecond)

	if !rl.Allow("10.0.0.1") {
		t.Error("Request after window expiry should be allowed")
	}
}

func TestFixedWindowLimiter_ZeroLimit(t *testing.T) {
	rl := New(0, time.Minute)

	if rl.Allow("10.0.0.1") {
		t.Error("Zero-limit limiter should deny everything")
	}
}

func TestFixedWindowLimiter_PrunesExpired(t *testing.T) {
	rl := New(1, 10*time.Millisecond)

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	time.Sleep(15 * time.Millisecond)

	rl.Allow("10.0.0.3")

	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	if len(rl.windows) != 1 {
		t.Errorf("Expected expired windows pruned, got %d entries", len(rl.windows))
	}
}
