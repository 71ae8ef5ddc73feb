package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("bare context = %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("empty id stored: %q", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "abc")); got != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"missing", "", false},
		{"kept", "edit-42-abc", true},
		{"uuid kept", "0b0f6f0c-3f41-4bd2-9e52-1c0c5d0b8a11", true},
		{"space rejected", "has space", false},
		{"quote rejected", `a"b`, false},
		{"control rejected", "a\x01b", false},
		{"too long", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ctxID string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodPost, "/h5p/ajax?action=files", nil)
			if tc.incoming != "" {
				req.Header.Set("X-Request-Id", tc.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			echoed := rec.Header().Get("X-Request-Id")
			if echoed != ctxID {
				t.Fatalf("response %q != context %q", echoed, ctxID)
			}
			if tc.keep {
				if ctxID != tc.incoming {
					t.Fatalf("id = %q, want %q", ctxID, tc.incoming)
				}
				return
			}
			if _, err := uuid.Parse(ctxID); err != nil {
				t.Fatalf("generated id %q is not a uuid: %v", ctxID, err)
			}
		})
	}
}

func TestRequestID_CustomHeader(t *testing.T) {
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Correlation-Id") != "corr-1" || rec.Header().Get("X-Request-Id") != "" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		id := rec.Header().Get("X-Request-Id")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
