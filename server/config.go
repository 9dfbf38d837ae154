package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Default timing values, in seconds.
const (
	// DefaultClockSkewGracePeriod tolerates small clock drift between the
	// authorization server and resource servers when judging token expiry.
	DefaultClockSkewGracePeriod int64 = 5
)

// Config carries engine-level settings. Token, code, and refresh lifetimes
// are not here: the Data Handler mints those values, so their policy lives
// with the store.
type Config struct {
	// VerificationURI is the URL shown to device-flow users, returned in
	// the device authorization response. Required when the Data Handler
	// implements storage.DeviceStore.
	VerificationURI string

	// ClockSkewGracePeriod is the tolerance, in seconds, applied when
	// judging access token expiry. Defaults to 5.
	ClockSkewGracePeriod int64
}

// applySecureDefaults fills zero values with safe defaults.
func (c *Config) applySecureDefaults() {
	if c.ClockSkewGracePeriod == 0 {
		c.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}
}

// Validate checks the configuration for values that cannot work at all.
func (c *Config) Validate() error {
	if c.ClockSkewGracePeriod < 0 {
		return fmt.Errorf("clock skew grace period must not be negative, got %d", c.ClockSkewGracePeriod)
	}
	if c.VerificationURI != "" {
		u, err := url.Parse(c.VerificationURI)
		if err != nil {
			return fmt.Errorf("invalid verification URI: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("verification URI must be absolute, got %q", c.VerificationURI)
		}
	}
	return nil
}

// logSecurityWarnings reports configuration choices that weaken the
// deployment. They are legal (development setups need them) but should not
// reach production unnoticed.
func (c *Config) logSecurityWarnings(logger *slog.Logger) {
	if c.VerificationURI != "" && strings.HasPrefix(c.VerificationURI, "http://") &&
		!strings.HasPrefix(c.VerificationURI, "http://localhost") &&
		!strings.HasPrefix(c.VerificationURI, "http://127.0.0.1") {
		logger.Warn("⚠️ verification URI uses plain HTTP",
			"verification_uri", c.VerificationURI,
			"recommendation", "serve the device verification page over HTTPS")
	}
	if c.ClockSkewGracePeriod > 300 {
		logger.Warn("⚠️ clock skew grace period is very long",
			"grace_period_seconds", c.ClockSkewGracePeriod,
			"recommendation", "keep the grace period under a few minutes; long periods extend token lifetime")
	}
}
