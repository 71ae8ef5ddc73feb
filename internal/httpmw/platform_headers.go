package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PlatformInfo describes the H5P platform the server implements.
type PlatformInfo struct {
	Name       string
	Version    string
	CoreAPI    string
	H5PVersion string
}

// PlatformHeaders adds X-H5P-Platform and X-H5P-Core-Api to every response
// and records them on the current span.
func PlatformHeaders(info PlatformInfo) func(http.Handler) http.Handler {
	platform := info.Name
	if info.Version != "" {
		platform += "/" + info.Version
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if platform != "" {
				w.Header().Set("X-H5P-Platform", platform)
			}
			if info.CoreAPI != "" {
				w.Header().Set("X-H5P-Core-Api", info.CoreAPI)
			}
			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.String("h5p.platform", platform),
					attribute.String("h5p.core_api", info.CoreAPI),
					attribute.String("h5p.version", info.H5PVersion),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
