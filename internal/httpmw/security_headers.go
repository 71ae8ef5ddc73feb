package httpmw

import "net/http"

// CSRF protection is not implemented: there are no sessions or cookies
// that carry identity, every request runs as the injected stub user.

// ContentSecurityPolicy allows what the H5P client needs: inline and
// evaluated scripts from content types, data: and blob: media, and framing
// by the same origin for iframe embeds.
const ContentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: blob:; " +
	"media-src 'self' data: blob:; " +
	"font-src 'self' data:; " +
	"connect-src 'self'; " +
	"frame-src 'self'; " +
	"base-uri 'self'; form-action 'self'; frame-ancestors 'self'; object-src 'none'"

// securityHeaders are set on every response. X-Frame-Options and CORP allow
// the same origin since content is embedded in same-origin iframes. COEP is
// left out so content can reference cross-origin media.
var securityHeaders = [][2]string{
	{"Content-Security-Policy", ContentSecurityPolicy},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=(), usb=()"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
}

// SecurityHeaders sets securityHeaders before calling next so handlers may
// still override them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
