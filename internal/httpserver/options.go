package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/health"
	"github.com/keithlinneman/h5p-web/internal/httpmw"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/upload"
)

// RouteRegistrar adds its routes to a router.
type RouteRegistrar interface {
	RegisterRoutes(chi.Router)
}

// Mount is a named group of routes under the base URL. Name scopes the
// request logger and span.
type Mount struct {
	Name   string
	Routes RouteRegistrar
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	// RateLimitMW only sees mutating requests.
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Platform     httpmw.PlatformInfo
	Health       health.Probe
	Readiness    health.Probe

	// request pipeline
	JSONLimit int64
	FormLimit int64
	Upload    upload.Options

	// CleanupUploads removes staged upload files after each response. It
	// only applies with Upload.UseTempFiles set.
	CleanupUploads bool

	// User is the identity injected into every request, httpmw.DefaultUser
	// when nil.
	User     *h5p.User
	Localize func(http.Handler) http.Handler

	// routes
	BaseURL     string
	Mounts      []Mount
	Export      RouteRegistrar
	StartPage   http.Handler
	Client      http.Handler
	NodeModules http.Handler
	// ExtraRoutes is called last on the root router.
	ExtraRoutes func(chi.Router)
}
