package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/h5p-web/internal/httpmw"
)

func newTestLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, append([]Option{WithRate(1, 3), WithTTL(time.Hour)}, opts...)...)
}

func drain(l *IPLimiter, ip string, n int) {
	for i := 0; i < n; i++ {
		l.allow(ip)
	}
}

func TestDefaults(t *testing.T) {
	l := New(context.Background())
	if l.perSecond != defaultPerSecond || l.burst != defaultBurst || l.ttl != defaultTTL || l.maxVisitors != defaultMaxVisitors {
		t.Fatalf("defaults = %v/%d/%s/%d", l.perSecond, l.burst, l.ttl, l.maxVisitors)
	}
	if l := New(context.Background(), WithTTL(0)); l.ttl != defaultTTL {
		t.Fatalf("zero ttl should fall back, got %s", l.ttl)
	}
}

func TestAllow_BurstPerIP(t *testing.T) {
	l := newTestLimiter(t)
	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request past burst allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("other address shares the bucket")
	}
}

func TestDecide_Refills(t *testing.T) {
	l := newTestLimiter(t, WithRate(1, 1))
	now := time.Now()
	if l.decide("ip", now) != allowed {
		t.Fatal("first request denied")
	}
	if l.decide("ip", now) != deniedFirst {
		t.Fatal("second request should be the first denial")
	}
	if l.decide("ip", now) != denied {
		t.Fatal("third request should be a repeat denial")
	}
	if l.decide("ip", now.Add(1100*time.Millisecond)) != allowed {
		t.Fatal("bucket should have refilled")
	}
}

func TestHooks(t *testing.T) {
	var first, all atomic.Int32
	l := newTestLimiter(t,
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnDenied(func(string) { all.Add(1) }),
	)
	drain(l, "a", 6)
	drain(l, "b", 5)
	if first.Load() != 2 || all.Load() != 5 {
		t.Fatalf("first=%d all=%d", first.Load(), all.Load())
	}
}

func TestNilHooks(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(1))
	drain(l, "a", 10)
	drain(l, "b", 2)
}

func TestEvict(t *testing.T) {
	var first atomic.Int32
	l := newTestLimiter(t, WithTTL(time.Minute), WithOnFirstDenied(func(string) { first.Add(1) }))
	drain(l, "stale", 4)
	l.allow("fresh")

	l.mu.Lock()
	l.visitors["stale"].lastSeen = time.Now().Add(-2 * time.Minute)
	l.mu.Unlock()
	l.evict(time.Now())

	l.mu.Lock()
	_, stale := l.visitors["stale"]
	_, fresh := l.visitors["fresh"]
	l.mu.Unlock()
	if stale || !fresh {
		t.Fatalf("stale=%v fresh=%v", stale, fresh)
	}

	drain(l, "stale", 4)
	if first.Load() != 2 {
		t.Fatalf("first denial should fire again after eviction, got %d", first.Load())
	}
}

func TestEvictLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, WithTTL(20*time.Millisecond))
	l.allow("x")
	cancel()
	time.Sleep(60 * time.Millisecond)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.visitors) > 1 {
		t.Fatalf("visitors = %d", len(l.visitors))
	}
}

func TestMaxVisitors(t *testing.T) {
	var full atomic.Int32
	l := newTestLimiter(t, WithMaxVisitors(2), WithOnCapacity(func() { full.Add(1) }))
	l.allow("a")
	l.allow("b")

	if l.allow("c") || l.allow("d") {
		t.Fatal("new address admitted at capacity")
	}
	if !l.allow("a") {
		t.Fatal("known address rejected at capacity")
	}
	if full.Load() != 1 {
		t.Fatalf("OnCapacity calls = %d", full.Load())
	}

	l.mu.Lock()
	l.visitors["b"].lastSeen = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()
	l.evict(time.Now())
	if !l.allow("c") {
		t.Fatal("eviction should free a slot")
	}
	if l.allow("d") {
		t.Fatal("table full again")
	}
	if full.Load() != 2 {
		t.Fatalf("OnCapacity should fire per episode, got %d", full.Load())
	}
}

func TestMaxVisitors_Zero(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(0))
	for i := 0; i < 500; i++ {
		if !l.allow(strings.Repeat("x", i+1)) {
			t.Fatalf("address %d rejected without a cap", i)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		perSecond float64
		want      string
	}{
		{10, "1"},
		{1, "1"},
		{0.25, "4"},
		{0, "1"},
	}
	for _, tc := range tests {
		l := newTestLimiter(t, WithRate(tc.perSecond, 1))
		if got := l.retryAfter(); got != tc.want {
			t.Errorf("retryAfter(%v) = %q, want %q", tc.perSecond, got, tc.want)
		}
	}
}

func serveFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/h5p/ajax?action=library-upload", nil)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestMiddleware(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.5, 2))
	var served atomic.Int32
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { served.Add(1) }))

	for i := 0; i < 2; i++ {
		if rec := serveFrom(h, "203.0.113.5"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := serveFrom(h, "203.0.113.5")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"success":false`) || !strings.Contains(body, `"errorCode":"rate_limited"`) {
		t.Fatalf("body = %s", body)
	}
	if served.Load() != 2 {
		t.Fatalf("served = %d", served.Load())
	}
	if rec := serveFrom(h, "203.0.113.6"); rec.Code != http.StatusOK {
		t.Fatalf("other address: %d", rec.Code)
	}
}

func TestMiddleware_EmptyClientIPShareBucket(t *testing.T) {
	l := newTestLimiter(t, WithRate(1, 1))
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serveFrom(h, "")
	if rec := serveFrom(h, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(50), WithRate(1000, 1000))
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.allow(strings.Repeat("a", g%60+i%3+1))
			}
		}(g)
	}
	wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.visitors) > 50 {
		t.Fatalf("visitors = %d exceeds cap", len(l.visitors))
	}
}
