package security

import "net/http"

// SetTokenEndpointHeaders sets the response headers every token endpoint
// response must carry. The exact Cache-Control and Pragma values are part
// of the protocol: token responses must never be cached by intermediaries.
func SetTokenEndpointHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// SetPageSecurityHeaders sets hardening headers on HTML-rendering
// endpoints (the built-in consent page). OAuth pages embed nothing and
// must never be framed.
func SetPageSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; form-action 'self'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
