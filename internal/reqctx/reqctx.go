// Package reqctx carries the per-request values the body, upload, user and
// localization middleware produce, so handlers read them with types instead
// of untyped request fields.
package reqctx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// File is one uploaded multipart file. Exactly one of Data and TempPath is
// set, depending on whether uploads are staged on disk.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
	TempPath    string
}

// Open returns the file contents.
func (f File) Open() (io.ReadCloser, error) {
	if f.TempPath == "" {
		return io.NopCloser(bytes.NewReader(f.Data)), nil
	}
	fh, err := os.Open(f.TempPath)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open staged upload %s", f.Filename)
	}
	return fh, nil
}

// Request holds the decoded request state. Middleware fills it in order;
// handlers only read it.
type Request struct {
	User      h5p.User
	HasUser   bool
	Files     []File
	JSON      json.RawMessage
	Form      map[string]any
	Language  string
	Languages []string
	T         func(key string) string
}

type ctxKey struct{}

// Attach returns r with a Request stored in its context, reusing one already
// present.
func Attach(r *http.Request) (*http.Request, *Request) {
	if v, ok := r.Context().Value(ctxKey{}).(*Request); ok {
		return r, v
	}
	v := &Request{}
	return r.WithContext(context.WithValue(r.Context(), ctxKey{}, v)), v
}

// From returns the Request of ctx. Without one an empty value is returned so
// reads never fail.
func From(ctx context.Context) *Request {
	if v, ok := ctx.Value(ctxKey{}).(*Request); ok {
		return v
	}
	return &Request{}
}

// WithUser stores u on the request.
func WithUser(r *http.Request, u h5p.User) *http.Request {
	r, v := Attach(r)
	v.User = u
	v.HasUser = true
	return r
}

// MustUser returns the injected identity and panics when none was injected.
func MustUser(ctx context.Context) h5p.User {
	v := From(ctx)
	if !v.HasUser {
		panic("reqctx: no user on request context")
	}
	return v.User
}

// Translate returns the bound translation of key, or key when localization
// did not run.
func (v *Request) Translate(key string) string {
	if v.T == nil {
		return key
	}
	return v.T(key)
}

// FirstFile returns the first uploaded file of field.
func (v *Request) FirstFile(field string) (File, bool) {
	for _, f := range v.Files {
		if f.Field == field {
			return f, true
		}
	}
	return File{}, false
}

// FormString returns a top-level string form value.
func (v *Request) FormString(key string) string {
	switch s := v.Form[key].(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			if str, ok := s[0].(string); ok {
				return str
			}
		}
	}
	return ""
}
