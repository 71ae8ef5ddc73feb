package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/h5p-web/internal/log"
)

// Storage backends for content.
const (
	StorageFS = "fs"
	StorageS3 = "s3"
)

type App struct {
	DataDir         string
	InstallDir      string
	ConfigFile      string
	LocalesDir      string
	TempUploads     bool
	NodeEnv         string
	Port            int
	Debug           string
	LogJSON         bool
	LogLevel        string
	AdminPort       int
	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	ContentStorage  string
	ContentS3Bucket string
	ContentS3Prefix string
	UploadRate      float64
	UploadBurst     int
	ShutdownTimeout time.Duration
	DrainDelay      time.Duration
	TrustedHops     int
}

// Register binds all config fields to the given FlagSet with defaults inline.
// Flag names map to environment variables without a prefix, so -data-dir is
// DATA_DIR and -node-env is NODE_ENV.
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.DataDir, "data-dir", "", "writable data directory (default <install-dir>/h5p)")
	fs.StringVar(&c.InstallDir, "install-dir", "", "directory holding h5p/, client/ and node_modules/ (default: executable dir)")
	fs.StringVar(&c.ConfigFile, "config-file", "config.json", "H5P JSON config file, relative to install-dir unless absolute")
	fs.StringVar(&c.LocalesDir, "locales-dir", "", "translation root laid out as {ns}/{lng}.json (default <install-dir>/assets/translations)")
	fs.BoolVar(&c.TempUploads, "temp-uploads", false, "stage uploads as temp files in an ephemeral directory (ignored in production)")
	fs.StringVar(&c.NodeEnv, "node-env", "development", "runtime environment (production disables the ephemeral upload dir)")
	fs.IntVar(&c.Port, "port", 8080, "listen TCP port (1..65535)")
	fs.StringVar(&c.Debug, "debug", "", "comma separated debug flags (i18n)")
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.ContentStorage, "content-storage", StorageFS, "content storage backend (fs|s3)")
	fs.StringVar(&c.ContentS3Bucket, "content-s3-bucket", "", "s3 bucket for content when content-storage=s3")
	fs.StringVar(&c.ContentS3Prefix, "content-s3-prefix", "content", "s3 key prefix for content")
	fs.Float64Var(&c.UploadRate, "upload-rate", 5, "per-ip mutating requests per second")
	fs.IntVar(&c.UploadBurst, "upload-burst", 20, "per-ip mutating request burst")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "upper bound for shutdown cleanup")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 0, "keep serving this long after readiness fails on shutdown (a second signal skips it)")
	fs.IntVar(&c.TrustedHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For entries are trusted")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// IsProduction reports whether NODE_ENV is production.
func (c App) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.NodeEnv), "production")
}

// DebugEnabled reports whether name appears in the comma separated DEBUG list.
func (c App) DebugEnabled(name string) bool {
	for _, f := range strings.Split(c.Debug, ",") {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

// UseEphemeralTempDir reports whether uploads get a private temp directory.
func (c App) UseEphemeralTempDir() bool {
	return c.TempUploads && !c.IsProduction()
}

// WithDefaults fills install-relative defaults. installDir is used when
// InstallDir is empty.
func (c App) WithDefaults(installDir string) App {
	if c.InstallDir == "" {
		c.InstallDir = installDir
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.InstallDir, "h5p")
	}
	if c.LocalesDir == "" {
		c.LocalesDir = filepath.Join(c.InstallDir, "assets", "translations")
	}
	if c.ConfigFile != "" && !filepath.IsAbs(c.ConfigFile) {
		c.ConfigFile = filepath.Join(c.InstallDir, c.ConfigFile)
	}
	return c
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 1..65535)", c.Port))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.Port {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and PORT must differ (both %d)", c.Port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	switch c.ContentStorage {
	case StorageFS:
	case StorageS3:
		if c.ContentS3Bucket == "" {
			errs = append(errs, fmt.Errorf("CONTENT_S3_BUCKET required when CONTENT_STORAGE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid CONTENT_STORAGE %q (must be fs|s3)", c.ContentStorage))
	}

	if c.UploadRate <= 0 || c.UploadBurst < 1 {
		errs = append(errs, fmt.Errorf("UPLOAD_RATE must be > 0 and UPLOAD_BURST >= 1 (got %.2f/%d)", c.UploadRate, c.UploadBurst))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive (got %s)", c.ShutdownTimeout))
	}
	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay))
	}
	if c.TrustedHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must not be negative (got %d)", c.TrustedHops))
	}
	if c.ConfigFile == "" {
		errs = append(errs, fmt.Errorf("CONFIG_FILE is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
