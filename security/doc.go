// Package security provides security-related functionality for the OAuth
// library: audit logging, rate limiting, client IP derivation, security
// headers, request correlation IDs, and clock-skew-tolerant expiry checks.
//
// # Rate Limiting
//
// RateLimiter provides per-key token-bucket limiting backed by
// golang.org/x/time/rate, with LRU eviction and background reaping of
// idle keys so memory stays bounded under distributed attacks.
//
// # Audit Logging
//
// Auditor emits structured slog events for the security-relevant moments
// of the token lifecycle (issuance, refresh, consent decisions, reuse
// detection, rate limiting). Resource owner identifiers are hashed before
// logging; tokens and codes never reach the log stream at all.
//
// # Expiry Checks
//
// IsExpired and friends compare expiries against an explicit now that the
// caller samples once per request, with a small grace period absorbing
// clock drift between systems.
package security
