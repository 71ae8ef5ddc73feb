package opshttp

import (
	"net/http"

	"github.com/keithlinneman/h5p-web/internal/health"
	"github.com/keithlinneman/h5p-web/internal/version"
)

const defaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// Version is served as JSON on /version when set.
	Version *version.Info
	// AllowPublic disables the private network guard, e.g. when the ops port
	// sits behind its own proxy.
	AllowPublic  bool
	UseRecoverMW bool
	OnPanic      func()
}
