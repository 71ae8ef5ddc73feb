package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/h5p-web/internal/version"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func firstSample(t *testing.T, reg *prometheus.Registry, name string) *dto.Metric {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil || len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f.GetMetric()[0]
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return firstSample(t, reg, name).GetCounter().GetValue()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return firstSample(t, reg, name).GetGauge().GetValue()
}

func TestHandler_Scrape(t *testing.T) {
	m := New()
	m.IncHTTPPanic()
	m.IncRateLimitDenied()
	m.IncRateLimitCapacity()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"go_goroutines",
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"http_requests_rate_limited_capacity_total",
		"profiling_active",
		"lifecycle_state",
		"h5p_upload_bytes",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("scrape missing %s", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncHTTPPanic()
	a.IncHTTPPanic()
	if v := counterValue(t, a.reg, "http_panic_total"); v != 2 {
		t.Fatalf("a = %v", v)
	}
	if v := counterValue(t, b.reg, "http_panic_total"); v != 0 {
		t.Fatalf("b = %v", v)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	dirty := true
	tests := []struct {
		name      string
		vi        version.Info
		wantDirty string
	}{
		{"dirty", version.Info{Version: "1.2.3", Commit: "abc123", GoVersion: "go1.24.11", VCSDirty: &dirty}, "true"},
		{"unknown", version.Info{Version: "dev"}, "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New()
			m.SetBuildInfoFromVersion("h5p-web", "server", tc.vi)
			s := firstSample(t, m.reg, "build_info")
			if s.GetGauge().GetValue() != 1 {
				t.Fatalf("build_info = %v", s.GetGauge().GetValue())
			}
			l := labelsOf(s)
			if l["app"] != "h5p-web" || l["version"] != tc.vi.Version || l["vcs_dirty"] != tc.wantDirty {
				t.Fatalf("labels = %v", l)
			}
		})
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()
	m.SetProfilingActive(true)
	if v := gaugeValue(t, m.reg, "profiling_active"); v != 1 {
		t.Fatalf("active = %v", v)
	}
	m.SetProfilingActive(false)
	if v := gaugeValue(t, m.reg, "profiling_active"); v != 0 {
		t.Fatalf("inactive = %v", v)
	}
}

func TestUploadMetrics(t *testing.T) {
	m := New()
	m.ObserveUpload(2048)
	m.ObserveUpload(10 << 20)
	if n := firstSample(t, m.reg, "h5p_upload_bytes").GetHistogram().GetSampleCount(); n != 2 {
		t.Fatalf("upload count = %d", n)
	}

	m.IncUploadRejected("too_large")
	m.IncUploadRejected("too_large")
	m.IncUploadRejected("malformed")
	if f := gatherMetric(t, m.reg, "h5p_upload_rejected_total"); len(f.GetMetric()) != 2 {
		t.Fatalf("rejected series = %d", len(f.GetMetric()))
	}
}

func TestIncExport(t *testing.T) {
	m := New()
	m.IncExport("html", "ok")
	m.IncExport("html", "ok")
	s := firstSample(t, m.reg, "h5p_exports_total")
	if s.GetCounter().GetValue() != 2 || labelsOf(s)["kind"] != "html" {
		t.Fatalf("export sample = %v", s)
	}
}

func TestIncContentTypeCacheUpdate(t *testing.T) {
	m := New()
	m.IncContentTypeCacheUpdate("ok")
	if v := counterValue(t, m.reg, "h5p_content_type_cache_updates_total"); v != 1 {
		t.Fatalf("updates = %v", v)
	}
}

func TestSetContentTypeCacheBreakerState(t *testing.T) {
	for state, want := range map[string]float64{"closed": 0, "half-open": 1, "open": 2} {
		m := New()
		m.SetContentTypeCacheBreakerState("h5p-hub", state)
		if got := gaugeValue(t, m.reg, "h5p_hub_breaker_state"); got != want {
			t.Errorf("state %q = %v, want %v", state, got, want)
		}
	}
}

func TestSetLifecycleState(t *testing.T) {
	m := New()
	m.SetLifecycleState(2)
	if got := gaugeValue(t, m.reg, "lifecycle_state"); got != 2 {
		t.Fatalf("lifecycle_state = %v", got)
	}
}
