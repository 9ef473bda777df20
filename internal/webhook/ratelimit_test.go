package webhook

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           2,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	if !rl.Allow("+15550100") {
		t.Fatal("first request denied")
	}
	if !rl.Allow("+15550100") {
		t.Fatal("second request within burst denied")
	}
	if rl.Allow("+15550100") {
		t.Fatal("third request should exceed burst")
	}

	// Keys are independent.
	if !rl.Allow("+15550200") {
		t.Fatal("other line denied")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(line string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/call", nil)
		if line != "" {
			req.Header.Set("X-Dialed-Number", line)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if got := do("+15550100"); got != http.StatusOK {
		t.Fatalf("first request = %d, want 200", got)
	}
	if got := do("+15550100"); got != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", got)
	}

	// A different line is not affected.
	if got := do("+15550200"); got != http.StatusOK {
		t.Fatalf("other line = %d, want 200", got)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Millisecond,
	})
	defer rl.Stop()

	rl.Allow("+15550100")
	time.Sleep(5 * time.Millisecond)
	rl.cleanup()

	rl.mu.Lock()
	remaining := len(rl.entries)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Errorf("entries after cleanup = %d, want 0", remaining)
	}
}
