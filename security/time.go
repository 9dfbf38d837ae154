package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period for token
// expiration checks. It absorbs NTP drift between the issuing store and
// the resource server: a token is treated as live until it has been
// expired for longer than the grace period. 5 seconds covers typical
// drift without meaningfully extending token lifetime.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt has passed relative to now, using
// the default grace period. A zero expiresAt never expires.
//
// Callers sample now once at request entry and thread it through every
// check in the request, so a slow request cannot observe a token as both
// live and expired.
func IsExpired(now, expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(now, expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod reports whether expiresAt has passed relative
// to now with a custom grace period.
func IsExpiredWithGracePeriod(now, expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// ExpiresWithin reports whether expiresAt falls inside the threshold
// window after now. Clients use it to refresh ahead of expiry.
func ExpiresWithin(now, expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}
