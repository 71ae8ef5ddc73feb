// Package static serves read-only file trees (client bundle, node_modules,
// H5P core and editor files) with path hardening and extension-based cache
// policies.
package static

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/pathutil"
)

// ErrInvalidOptions is returned by New for unusable options.
var ErrInvalidOptions = errors.New("static: invalid options")

type Options struct {
	Logger log.Logger
	// Root is served as-is; mount the handler behind http.StripPrefix.
	Root fs.FS
	// Name labels log entries, e.g. "client" or "node_modules".
	Name string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if opts.Root == nil {
		return nil, errors.Join(ErrInvalidOptions, errors.New("Root is nil"))
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// hardening: only allow GET/HEAD
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name, ok := resolvePath(r.URL.Path, h.opts.Root)
	if !ok {
		h.opts.Logger.Debug(r.Context(), "static file not found", "root", h.opts.Name, "url.path", r.URL.Path)
		w.Header().Set("Cache-Control", "no-store")
		http.NotFound(w, r)
		return
	}

	if cc := cacheControlForFile(name, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	h.serveFile(w, r, name)
}

// serveFile writes name verbatim. http.ServeFileFS is avoided because it
// redirects any path ending in /index.html.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, err := h.opts.Root.Open(name)
	if err != nil {
		w.Header().Set("Cache-Control", "no-store")
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		w.Header().Set("Cache-Control", "no-store")
		http.NotFound(w, r)
		return
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		b, err := io.ReadAll(f)
		if err != nil {
			h.opts.Logger.Warn(r.Context(), "static file read failed", "root", h.opts.Name, "file", name, "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		rs = bytes.NewReader(b)
	}
	http.ServeContent(w, r, path.Base(name), info.ModTime(), rs)
}

// resolvePath maps a URL path to a regular file in fsys. Directories, dot
// segments and ambiguous encodings never resolve.
func resolvePath(urlPath string, fsys fs.FS) (string, bool) {
	p := strings.TrimPrefix(urlPath, "/")
	if p == "" || strings.HasSuffix(p, "/") {
		return "", false
	}
	if clean, ok := pathutil.CleanRel(p); !ok || clean != p || !fs.ValidPath(p) {
		return "", false
	}
	info, err := fs.Stat(fsys, p)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return p, true
}

func cacheControlForFile(name string, o *Options) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", "":
		return o.HTMLCacheControl
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot",
		".map":
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
