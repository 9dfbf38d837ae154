package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"just expired, inside grace", now.Add(-2 * time.Second), false},
		{"expired at the grace boundary", now.Add(-DefaultClockSkewGracePeriod), false},
		{"expired beyond grace", now.Add(-DefaultClockSkewGracePeriod - time.Second), true},
		{"zero expiry never expires", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(now, tt.expiresAt); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if IsExpiredWithGracePeriod(now, now.Add(-30*time.Second), time.Minute) {
		t.Error("expired inside a custom grace period")
	}
	if !IsExpiredWithGracePeriod(now, now.Add(-30*time.Second), 0) {
		t.Error("not expired with a zero grace period")
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		threshold time.Duration
		want      bool
	}{
		{"well before the window", now.Add(time.Hour), 5 * time.Minute, false},
		{"inside the window", now.Add(2 * time.Minute), 5 * time.Minute, true},
		{"already past", now.Add(-time.Minute), 5 * time.Minute, true},
		{"zero expiry", time.Time{}, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpiresWithin(now, tt.expiresAt, tt.threshold); got != tt.want {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}
