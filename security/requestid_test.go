package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()
	if a == b {
		t.Error("consecutive IDs collide")
	}
	if !requestIDPattern.MatchString(a) {
		t.Errorf("generated ID %q does not satisfy the accepted pattern", a)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want req-123", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstream     string
		wantUpstream bool
	}{
		{"valid upstream ID preserved", "proxy-abc_123", true},
		{"absent ID replaced", "", false},
		{"header injection replaced", "evil\r\nSet-Cookie: x", false},
		{"overlong ID replaced", string(make([]byte, 200)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			})

			r := httptest.NewRequest("GET", "/", nil)
			if tt.upstream != "" {
				r.Header.Set(RequestIDHeader, tt.upstream)
			}
			rr := httptest.NewRecorder()
			RequestIDMiddleware(next).ServeHTTP(rr, r)

			echoed := rr.Header().Get(RequestIDHeader)
			if echoed == "" {
				t.Fatal("no request ID echoed on the response")
			}
			if echoed != seen {
				t.Errorf("context ID %q differs from echoed ID %q", seen, echoed)
			}
			if tt.wantUpstream && echoed != tt.upstream {
				t.Errorf("upstream ID %q was replaced with %q", tt.upstream, echoed)
			}
			if !tt.wantUpstream && echoed == tt.upstream {
				t.Error("invalid upstream ID survived")
			}
		})
	}
}
