package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	var seenInHandler string
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInHandler = w.Header().Get("X-Content-Type-Options")
		w.Header().Set("X-Frame-Options", "DENY")
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/h5p/play/1", nil))

	if rec.Code != http.StatusTeapot || seenInHandler != "nosniff" {
		t.Fatalf("status=%d seen=%q", rec.Code, seenInHandler)
	}
	for _, kv := range securityHeaders {
		if kv[0] == "X-Frame-Options" {
			continue
		}
		if got := rec.Header().Get(kv[0]); got != kv[1] {
			t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("handler override lost")
	}
	if rec.Header().Get("Cross-Origin-Embedder-Policy") != "" {
		t.Error("COEP would block cross-origin media referenced by content")
	}
}

func TestContentSecurityPolicy_AllowsH5PClient(t *testing.T) {
	for _, d := range []string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline' 'unsafe-eval'",
		"img-src 'self' data: blob:",
		"media-src 'self' data: blob:",
		"frame-ancestors 'self'",
		"object-src 'none'",
	} {
		if !strings.Contains(ContentSecurityPolicy, d) {
			t.Errorf("CSP missing %q", d)
		}
	}
}
