package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/h5p-web/internal/cfg"
	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/h5phttp"
	"github.com/keithlinneman/h5p-web/internal/health"
	"github.com/keithlinneman/h5p-web/internal/httpmw"
	"github.com/keithlinneman/h5p-web/internal/httpserver"
	"github.com/keithlinneman/h5p-web/internal/i18n"
	"github.com/keithlinneman/h5p-web/internal/lifecycle"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/metrics"
	"github.com/keithlinneman/h5p-web/internal/opshttp"
	"github.com/keithlinneman/h5p-web/internal/otelx"
	"github.com/keithlinneman/h5p-web/internal/prof"
	"github.com/keithlinneman/h5p-web/internal/ratelimit"
	"github.com/keithlinneman/h5p-web/internal/sitehttp"
	"github.com/keithlinneman/h5p-web/internal/static"
	"github.com/keithlinneman/h5p-web/internal/upload"
	v "github.com/keithlinneman/h5p-web/internal/version"
)

// hubTimeout bounds one request to the content type hub.
const hubTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	vi := v.Get()

	// .env is optional; values already in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "dotenv:", err)
	}

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	// env names carry no prefix so DATA_DIR, PORT, NODE_ENV etc. work as-is
	cfg.FillFromEnv(flag.CommandLine, "", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	conf = conf.WithDefaults(executableDir())

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		return 1
	}
	lg, err := log.New(log.Options{
		App:     v.AppName,
		Version: vi.Version,
		Level:   lvl,
		JSON:    conf.LogJSON,
		Writer:  os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// readiness fails as soon as shutdown starts
	var gate health.ShutdownGate
	mgr := lifecycle.New(lifecycle.Options{
		Logger:          L,
		ShutdownTimeout: conf.ShutdownTimeout,
		DrainDelay:      conf.DrainDelay,
		OnStateChange: func(s lifecycle.State) {
			m.SetLifecycleState(int(s))
			if s == lifecycle.Terminating {
				gate.Set("terminating")
			}
		},
	})
	if err := mgr.Advance(lifecycle.Configuring); err != nil {
		L.Error(ctx, err, "lifecycle")
		return 1
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"node_env", conf.NodeEnv,
		"port", conf.Port,
		"admin_port", conf.AdminPort,
		"install_dir", conf.InstallDir,
		"data_dir", conf.DataDir,
		"config_file", conf.ConfigFile,
		"temp_uploads", conf.TempUploads,
		"content_storage", conf.ContentStorage,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":      v.AppName,
			"version":  vi.Version,
			"commit":   vi.Commit,
			"node_env": conf.NodeEnv,
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	mgr.OnStop("pyroscope", func(context.Context) error {
		stopProf()
		return nil
	})

	// Insecure: spans go to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		SampleRatio: conf.TraceSample,
		ServiceName: v.AppName,
		Environment: conf.NodeEnv,
		Version:     vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}
	mgr.OnStop("otel", func(ctx context.Context) error { return shutdownOTEL(ctx) })

	h5pConf, err := h5p.LoadConfig(conf.ConfigFile)
	if err != nil {
		L.Error(ctx, err, "failed to load h5p config", "path", conf.ConfigFile)
		return 1
	}

	translator, err := i18n.New(ctx, i18n.Options{
		Dir:    conf.LocalesDir,
		Debug:  conf.DebugEnabled("i18n"),
		Logger: L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load translations", "dir", conf.LocalesDir)
		return 1
	}
	translate := h5p.TranslateFunc(translator.T)

	paths, err := cfg.ResolvePaths(conf)
	if err != nil {
		L.Error(ctx, err, "failed to prepare storage directories")
		return 1
	}
	tempPath, err := mgr.CreateTempDir(conf.TempUploads, conf.IsProduction(), paths.Temporary)
	if err != nil {
		L.Error(ctx, err, "failed to create temp upload dir")
		return 1
	}
	paths = paths.WithTemporary(tempPath)
	// covers startup failures; after a normal shutdown this is a no-op
	defer func() {
		if td := mgr.TempDir(); td != nil {
			_ = td.Cleanup()
		}
	}()

	stores, err := newStores(ctx, conf, paths, L)
	if err != nil {
		L.Error(ctx, err, "failed to set up storage", "content_storage", conf.ContentStorage)
		return 1
	}

	// background loops stop before the listeners report shutdown complete
	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()

	cache, err := h5p.NewContentTypeCache(h5p.ContentTypeCacheOptions{
		Config:  h5pConf,
		Dir:     paths.UserData,
		Client:  &http.Client{Timeout: hubTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:  L,
		Metrics: m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to load content type cache")
		return 1
	}
	go cache.Run(bgCtx, time.Minute)

	editor, err := h5p.NewEditor(h5p.EditorOptions{
		Config:           h5pConf,
		Content:          stores.content,
		Libraries:        stores.libraries,
		UserData:         stores.userData,
		Temporary:        stores.temporary,
		ContentTypeCache: cache,
		Translate:        translate,
		Logger:           L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create editor")
		return 1
	}
	player, err := h5p.NewPlayer(h5p.PlayerOptions{
		Config:    h5pConf,
		Content:   stores.content,
		Libraries: stores.libraries,
		UserData:  stores.userData,
		Translate: translate,
		Logger:    L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create player")
		return 1
	}
	exporter, err := h5p.NewHTMLExporter(h5p.ExporterOptions{
		Config:    h5pConf,
		Content:   stores.content,
		Libraries: stores.libraries,
		CoreFS:    os.DirFS(paths.Core),
		Translate: translate,
		Logger:    L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create html exporter")
		return 1
	}

	handlers, err := newHandlers(editor, player, exporter, cache, paths, m, L)
	if err != nil {
		L.Error(ctx, err, "failed to create http handlers")
		return 1
	}

	limiter := ratelimit.New(bgCtx,
		ratelimit.WithRate(conf.UploadRate, conf.UploadBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// logged once per ip until it is evicted
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	readiness := health.All(gate.Probe(), mgr.ReadyProbe())

	stopOps, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Version:      &vi,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}
	mgr.OnStop("ops-http", stopOps)

	stopHTTP, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.Port,
		UseRecoverMW: true,
		OnPanic:      m.IncHTTPPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Platform: httpmw.PlatformInfo{
			Name:       h5pConf.PlatformName,
			Version:    h5pConf.PlatformVersion,
			CoreAPI:    strconv.Itoa(h5pConf.CoreAPIVersion.Major) + "." + strconv.Itoa(h5pConf.CoreAPIVersion.Minor),
			H5PVersion: h5pConf.H5PVersion,
		},
		Health:    health.Fixed(true, ""),
		Readiness: readiness,

		JSONLimit: httpmw.DefaultJSONLimit,
		Upload: upload.Options{
			MaxTotalSize: h5pConf.MaxTotalSize,
			UseTempFiles: conf.TempUploads,
			TempDir:      paths.Temporary,
			Metrics:      m,
		},
		CleanupUploads: mgr.TempDir() != nil,
		Localize:       translator.Middleware,

		BaseURL: h5pConf.BaseURL,
		Mounts: []httpserver.Mount{
			{Name: "ajax", Routes: handlers.ajax},
			{Name: "actions", Routes: handlers.actions},
			{Name: "libraries", Routes: handlers.libraries},
			{Name: "content-type-cache", Routes: handlers.cache},
		},
		Export:      handlers.export,
		StartPage:   handlers.start,
		Client:      handlers.client,
		NodeModules: handlers.nodeModules,
		ExtraRoutes: sitehttp.New(h5pConf.BaseURL).RegisterRoutes,
	}, mgr.Fail)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener", "port", conf.Port)
		_ = stopOps(context.Background())
		return 1
	}
	// hooks run in reverse: http first, then ops, otel, pyroscope
	mgr.OnStop("http", stopHTTP)
	mgr.OnStop("background", func(context.Context) error {
		cancelBG()
		return nil
	})

	L.Info(ctx, "h5p server listening",
		"url", "http://localhost:"+strconv.Itoa(conf.Port),
		"base_url", h5pConf.BaseURL,
		"temp_dir", paths.Temporary,
	)

	if err := notifySystemd(); err != nil {
		// systemd kills the process after its start timeout at worst
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	if err := mgr.Run(ctx); err != nil {
		L.Error(context.Background(), err, "shutdown with error")
		return 1
	}
	return 0
}

type handlerSet struct {
	ajax        *h5phttp.Ajax
	actions     *h5phttp.Actions
	libraries   *h5phttp.LibraryAdmin
	cache       *h5phttp.ContentTypeCacheAdmin
	export      *h5phttp.Export
	start       *h5phttp.StartPage
	client      *static.Handler
	nodeModules *static.Handler
}

func newHandlers(editor *h5p.Editor, player *h5p.Player, exporter *h5p.HTMLExporter, cache *h5p.ContentTypeCache, paths cfg.Paths, m *metrics.ServerMetrics, L log.Logger) (*handlerSet, error) {
	var hs handlerSet
	var err error

	if hs.ajax, err = h5phttp.NewAjax(h5phttp.AjaxOptions{
		Editor:   editor,
		Player:   player,
		CoreFS:   os.DirFS(paths.Core),
		EditorFS: os.DirFS(paths.Editor),
		Language: "en",
		Logger:   L,
	}); err != nil {
		return nil, err
	}
	if hs.actions, err = h5phttp.NewActions(h5phttp.ActionOptions{
		Editor:   editor,
		Player:   player,
		Language: "en",
		Metrics:  m,
		Logger:   L,
	}); err != nil {
		return nil, err
	}
	if hs.libraries, err = h5phttp.NewLibraryAdmin(editor); err != nil {
		return nil, err
	}
	if hs.cache, err = h5phttp.NewContentTypeCacheAdmin(cache); err != nil {
		return nil, err
	}
	if hs.export, err = h5phttp.NewExport(exporter, "en", m); err != nil {
		return nil, err
	}
	if hs.start, err = h5phttp.NewStartPage(editor, "en"); err != nil {
		return nil, err
	}
	if hs.client, err = static.New(static.Options{Root: os.DirFS(paths.Client), Name: "client", Logger: L}); err != nil {
		return nil, err
	}
	if hs.nodeModules, err = static.New(static.Options{Root: os.DirFS(paths.NodeModules), Name: "node_modules", Logger: L}); err != nil {
		return nil, err
	}
	return &hs, nil
}

// executableDir is the default install dir.
func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
