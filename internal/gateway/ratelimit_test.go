package gateway

import (
	"net/http"
	"testing"
)

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Error("rpm 0 should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("u", http.MethodPost) {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestRateLimiter_ReadsExempt(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	rl.Allow("u", http.MethodPost) // consume the burst
	for i := 0; i < 50; i++ {
		if !rl.Allow("u", http.MethodGet) {
			t.Fatal("GET should never be limited")
		}
		if !rl.Allow("u", http.MethodHead) {
			t.Fatal("HEAD should never be limited")
		}
	}
}

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("u", http.MethodPost) {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d requests, want burst of 3", allowed)
	}
}

func TestRateLimiter_PerCallerBuckets(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if !rl.Allow("alice", http.MethodPost) {
		t.Fatal("alice's first request denied")
	}
	if rl.Allow("alice", http.MethodPost) {
		t.Error("alice's second request should be denied")
	}
	if !rl.Allow("bob", http.MethodPost) {
		t.Error("bob should get a separate bucket")
	}
}
