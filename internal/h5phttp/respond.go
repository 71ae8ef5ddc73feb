package h5phttp

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/pathutil"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// envelope is the {success, data, message} wrapper the H5P client expects
// from mutating AJAX calls and from every error.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError maps err to a status. Server faults are logged with their chain
// and answered with the generic status text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	status := xerrors.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).Error(ctx, err, "h5p request failed", "status", status)
		msg = http.StatusText(status)
	} else {
		log.FromContext(ctx).Debug(ctx, "h5p request rejected", "status", status, "err", err.Error())
	}
	writeJSON(w, r, status, envelope{Success: false, Message: msg, ErrorCode: xerrors.KindOf(err).String()})
}

func userOf(r *http.Request) h5p.User {
	return reqctx.MustUser(r.Context())
}

func languageOf(r *http.Request, fallback string) string {
	if lng := reqctx.From(r.Context()).Language; lng != "" {
		return lng
	}
	return fallback
}

// urlParam returns the decoded route parameter key. chi matches on RawPath
// when the request carries one, leaving non-canonical escapes such as %41
// in the value.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if dec, err := url.PathUnescape(v); err == nil {
		return dec
	}
	return v
}

// wildcardPath returns the chi catch-all segment when it is a safe relative
// file path.
func wildcardPath(r *http.Request) (string, bool) {
	p := urlParam(r, "*")
	if clean, ok := pathutil.CleanRel(p); !ok || clean != p {
		return "", false
	}
	return p, true
}

// subtree serves h with the request path replaced by the catch-all segment.
func subtree(h http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := new(http.Request)
		*r2 = *r
		u := *r.URL
		u.Path = "/" + urlParam(r, "*")
		u.RawPath = ""
		r2.URL = &u
		h.ServeHTTP(w, r2)
	}
}

// serveFile streams a facade file with a type derived from its extension.
func serveFile(w http.ResponseWriter, r *http.Request, name string, open func() (io.ReadCloser, error), cacheControl string) {
	rc, err := open()
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		log.FromContext(r.Context()).Debug(r.Context(), "file stream aborted", "file", name, "err", err.Error())
	}
}

// basePrefix is the base URL to prepend to route paths; the root base is
// empty so joined paths never start with "//".
func basePrefix(c *h5p.Config) string {
	if b := c.URL(); b != "/" {
		return b
	}
	return ""
}
