package security

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, testLogger())
	defer rl.Stop()

	if !rl.Allow("203.0.113.9") {
		t.Error("first request denied")
	}
	if !rl.Allow("203.0.113.9") {
		t.Error("second request denied within burst")
	}
	if rl.Allow("203.0.113.9") {
		t.Error("third request allowed beyond burst")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger())
	defer rl.Stop()

	if !rl.Allow("203.0.113.9") {
		t.Error("first key denied")
	}
	if rl.Allow("203.0.113.9") {
		t.Error("first key allowed beyond burst")
	}
	if !rl.Allow("198.51.100.7") {
		t.Error("exhausting one key throttled another")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithOptions(1, 1, RateLimiterOptions{
		MaxEntries: 3,
		Logger:     testLogger(),
	})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	if rl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rl.Len())
	}

	// Touch the oldest so the middle key becomes the eviction candidate.
	rl.Allow("10.0.0.0")
	rl.Allow("10.0.0.99")

	if rl.Len() != 3 {
		t.Errorf("Len() = %d, want 3 after eviction", rl.Len())
	}
	// The evicted key gets a fresh bucket, so its first request passes even
	// though it had spent its burst before eviction.
	if !rl.Allow("10.0.0.1") {
		t.Error("evicted key did not restart with a fresh bucket")
	}
}

func TestRateLimiter_ReapIdle(t *testing.T) {
	rl := NewRateLimiterWithOptions(1, 1, RateLimiterOptions{
		IdleTimeout: time.Minute,
		Logger:      testLogger(),
	})
	defer rl.Stop()

	rl.Allow("203.0.113.9")
	rl.Allow("198.51.100.7")
	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}

	rl.reapIdle(time.Now().Add(2 * time.Minute))

	if rl.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after reaping", rl.Len())
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1, 1, testLogger())
	rl.Stop()
	rl.Stop()
}
