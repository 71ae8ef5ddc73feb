package httpmw

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/render"
	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/reqctx"
)

// DefaultJSONLimit is the JSON body ceiling.
const DefaultJSONLimit = 500 << 20

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

func writeBodyError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"success": false, "message": msg})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeBodyError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeBodyError(w, r, http.StatusBadRequest, "unreadable request body")
		}
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(b))
	return b, true
}

// JSONBody reads application/json bodies up to limit bytes and stores the
// raw document on the request. Larger bodies get 413 and malformed JSON 400,
// both before the handler runs.
func JSONBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultJSONLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || mediaType(r) != "application/json" {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > limit {
				writeBodyError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			b, ok := readBody(w, r, limit)
			if !ok {
				return
			}
			if len(bytes.TrimSpace(b)) > 0 && !json.Valid(b) {
				writeBodyError(w, r, http.StatusBadRequest, "malformed JSON body")
				return
			}
			r, v := reqctx.Attach(r)
			v.JSON = b
			next.ServeHTTP(w, r)
		})
	}
}

// FormBody parses application/x-www-form-urlencoded bodies into the request
// form, expanding a[b][c] keys into nested objects.
func FormBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultJSONLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || mediaType(r) != "application/x-www-form-urlencoded" {
				next.ServeHTTP(w, r)
				return
			}
			b, ok := readBody(w, r, limit)
			if !ok {
				return
			}
			vals, err := url.ParseQuery(string(b))
			if err != nil {
				writeBodyError(w, r, http.StatusBadRequest, "malformed form body")
				return
			}
			r, v := reqctx.Attach(r)
			if v.Form == nil {
				v.Form = make(map[string]any, len(vals))
			}
			for k, list := range vals {
				for _, s := range list {
					reqctx.SetFormValue(v.Form, k, s)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
