package httpapi

import "testing"

func TestRateLimiterDisabledWhenZeroRPM(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow("uid-1") {
			t.Fatalf("expected disabled limiter to always allow")
		}
	}
}

func TestRateLimiterBurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60) // 1/sec, burst 15
	allowed := 0
	for i := 0; i < 30; i++ {
		if rl.Allow("uid-1") {
			allowed++
		}
	}
	if allowed == 30 {
		t.Fatalf("expected some requests to be denied once burst is exhausted")
	}
	if allowed == 0 {
		t.Fatalf("expected at least the burst to be allowed")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(60)
	if !rl.Allow("uid-a") || !rl.Allow("uid-b") {
		t.Fatalf("expected distinct keys to each get their own budget")
	}
}
