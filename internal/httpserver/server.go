package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/h5p-web/internal/health"
	"github.com/keithlinneman/h5p-web/internal/httpmw"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/upload"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// bodyOverhead covers multipart boundaries and headers on top of the
// largest accepted payload.
const bodyOverhead = 1 << 20

// NewHandler builds the HTTP handler with the request pipeline and routes.
// main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts *Options) http.Handler {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	r := chi.NewRouter()

	// Compress text responses (HTML/CSS/JS/JSON/SVG)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"application/javascript",
		"text/javascript",
		"application/json",
		"image/svg+xml",
	))

	// Annotate logger and tracer with http.route from chi route pattern if trace is recording
	r.Use(httpmw.AnnotateHTTPRoute)

	r.Use(httpmw.AccessLog())

	// Body backstop; the body and upload layers enforce the real limits
	r.Use(httpmw.MaxBody(bodyLimit(opts)))

	// Request pipeline, in order
	r.Use(httpmw.RequestContext)
	r.Use(httpmw.JSONBody(opts.JSONLimit))
	r.Use(httpmw.FormBody(opts.FormLimit))
	r.Use(upload.Middleware(opts.Upload))
	if opts.Upload.UseTempFiles && opts.CleanupUploads {
		r.Use(upload.Cleanup(logger))
	}
	user := httpmw.DefaultUser
	if opts.User != nil {
		user = *opts.User
	}
	r.Use(httpmw.InjectUser(user))
	if opts.Localize != nil {
		r.Use(opts.Localize)
	}

	if opts.Health != nil {
		r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	}
	if opts.Readiness != nil {
		r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))
	}

	mountRoutes(r, opts)

	// Middleware (outermost first in wrapping order)
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, etc)
	h = httpmw.WithLogger(logger)(h)

	// Metrics middleware for prometheus instrumentation
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	h = httpmw.PlatformHeaders(opts.Platform)(h)

	// add trace-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateHTTPRoute will rename the span later to the final route pattern
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(r *http.Request) bool { return true }),
	)

	// Rate limiting (after client IP mw so it uses resolved IP)
	if opts.RateLimitMW != nil {
		h = mutatingOnly(opts.RateLimitMW)(h)
	}

	// Client IP resolution (must be before rate limiter and logging in middleware chain)
	h = httpmw.ClientIPWithOptions(opts.ClientIPOpts)(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h)

	// Recovery middleware to log panics and serve 500 response
	if opts.UseRecoverMW {
		h = httpmw.Recover(logger, opts.OnPanic)(h)
	}

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	return h
}

// mountRoutes registers the export route and the base URL routes first, then
// the start page and the static directories.
func mountRoutes(r chi.Router, opts *Options) {
	if opts.Export != nil {
		opts.Export.RegisterRoutes(r)
	}

	if len(opts.Mounts) > 0 {
		register := func(br chi.Router) {
			for _, m := range opts.Mounts {
				br.Group(func(g chi.Router) {
					if m.Name != "" {
						g.Use(httpmw.Scope(m.Name))
					}
					m.Routes.RegisterRoutes(g)
				})
			}
		}
		base := strings.TrimRight(opts.BaseURL, "/")
		if base == "" {
			r.Group(register)
		} else {
			r.Route(base, register)
		}
	}

	if opts.StartPage != nil {
		r.Method(http.MethodGet, "/", opts.StartPage)
	}
	if opts.Client != nil {
		r.Handle("/client/*", http.StripPrefix("/client", opts.Client))
	}
	if opts.NodeModules != nil {
		r.Handle("/node_modules/*", http.StripPrefix("/node_modules", opts.NodeModules))
	}
	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}
}

func bodyLimit(opts *Options) int64 {
	limit := max(opts.JSONLimit, opts.FormLimit, opts.Upload.MaxTotalSize)
	if limit <= 0 {
		limit = httpmw.DefaultJSONLimit
	}
	return limit + bodyOverhead
}

// mutatingOnly applies mw to every method except GET, HEAD and OPTIONS.
func mutatingOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}

// shouldTrace decides which requests get traced.
func shouldTrace(p string) bool {
	if p == "/favicon.ico" || p == "/robots.txt" {
		return false
	}
	// dont trace health checks
	if p == "/-/healthy" || p == "/-/ready" {
		return false
	}
	if strings.HasPrefix(p, "/node_modules/") {
		return false
	}
	// dont trace static asset extensions
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".woff", ".woff2", ".ttf", ".map":
		return false
	}
	return true
}

// Server timeout defaults. Write and read timeouts are generous since
// package uploads and exports move large bodies.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 5 * time.Minute
	DefaultWriteTimeout      = 5 * time.Minute
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start the public HTTP server on opts.Port and serve in the background.
// onServeError, when set, receives a fatal Serve error so the caller can
// begin shutdown. Returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts *Options, onServeError func(error)) (func(context.Context) error, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen on %s", addr)
	}

	go func() {
		logger.Info(ctx, "http server listening", "addr", addr, "base_url", opts.BaseURL)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, err, "http server error")
			if onServeError != nil {
				onServeError(err)
			}
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			logger.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
