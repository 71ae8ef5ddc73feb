// Package upload parses multipart/form-data requests before routing. Files
// are held in memory or staged in a temp directory, the cumulative size is
// capped, and form fields are merged into the request form.
package upload

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/render"

	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// File is an uploaded file as stored on the request.
type File = reqctx.File

// Metrics receives upload outcomes.
type Metrics interface {
	ObserveUpload(bytes int64)
	IncUploadRejected(reason string)
}

type Options struct {
	// MaxTotalSize caps the sum of all parts of one request.
	MaxTotalSize int64
	UseTempFiles bool
	TempDir      string
	Metrics      Metrics
}

// envelopeAllowance is the boundary and part-header overhead tolerated on top
// of MaxTotalSize before a declared Content-Length is rejected unread. Part
// contents are always counted exactly while parsing.
const envelopeAllowance = 1 << 20

var errTooLarge = errors.New("upload exceeds maximum total size")

// Middleware parses multipart bodies. Requests over MaxTotalSize get 413 and
// never reach next; files staged so far are removed.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mt != "multipart/form-data" {
				next.ServeHTTP(w, r)
				return
			}
			if opts.MaxTotalSize > 0 && r.ContentLength > opts.MaxTotalSize+envelopeAllowance {
				reject(w, r, opts, http.StatusRequestEntityTooLarge, "too_large", errTooLarge)
				return
			}

			r, v := reqctx.Attach(r)
			files, total, err := parse(r, v, opts)
			if err != nil {
				removeStaged(files)
				status := http.StatusBadRequest
				reason := "malformed"
				if errors.Is(err, errTooLarge) {
					status, reason = http.StatusRequestEntityTooLarge, "too_large"
				}
				reject(w, r, opts, status, reason, err)
				return
			}
			v.Files = append(v.Files, files...)
			if opts.Metrics != nil {
				opts.Metrics.ObserveUpload(total)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parse(r *http.Request, v *reqctx.Request, opts Options) ([]File, int64, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, 0, xerrors.Wrap(err, "read multipart body")
	}
	if v.Form == nil {
		v.Form = make(map[string]any)
	}

	var (
		files []File
		total int64
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return files, total, nil
		}
		if err != nil {
			return files, total, xerrors.Wrap(err, "read multipart part")
		}

		remaining := int64(-1)
		if opts.MaxTotalSize > 0 {
			remaining = opts.MaxTotalSize - total
		}
		if part.FileName() == "" {
			b, n, err := readLimited(part, remaining)
			part.Close()
			total += n
			if err != nil {
				return files, total, err
			}
			reqctx.SetFormValue(v.Form, part.FormName(), string(b))
			continue
		}

		f, n, err := stage(part, remaining, opts)
		part.Close()
		total += n
		if err != nil {
			return files, total, err
		}
		files = append(files, f)
	}
}

func readLimited(r io.Reader, remaining int64) ([]byte, int64, error) {
	var buf bytes.Buffer
	n, err := copyLimited(&buf, r, remaining)
	return buf.Bytes(), n, err
}

// copyLimited copies r to w and fails with errTooLarge once more than
// remaining bytes were read. A negative remaining means unlimited.
func copyLimited(w io.Writer, r io.Reader, remaining int64) (int64, error) {
	if remaining < 0 {
		n, err := io.Copy(w, r)
		return n, xerrors.Wrap(err, "read upload")
	}
	n, err := io.Copy(w, io.LimitReader(r, remaining+1))
	if err != nil {
		return n, xerrors.Wrap(err, "read upload")
	}
	if n > remaining {
		return n, errTooLarge
	}
	return n, nil
}

func stage(part *multipart.Part, remaining int64, opts Options) (File, int64, error) {
	f := File{
		Field:       part.FormName(),
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
	}
	if !opts.UseTempFiles {
		b, n, err := readLimited(part, remaining)
		f.Data, f.Size = b, n
		return f, n, err
	}

	tmp, err := os.CreateTemp(opts.TempDir, "upload-*")
	if err != nil {
		return f, 0, xerrors.Wrap(err, "create upload temp file")
	}
	f.TempPath = tmp.Name()
	n, cerr := copyLimited(tmp, part, remaining)
	f.Size = n
	if err := tmp.Close(); err != nil && cerr == nil {
		cerr = xerrors.Wrap(err, "close upload temp file")
	}
	if cerr != nil {
		_ = os.Remove(f.TempPath)
		return File{}, n, cerr
	}
	return f, n, nil
}

func removeStaged(files []File) {
	for _, f := range files {
		if f.TempPath != "" {
			_ = os.Remove(f.TempPath)
		}
	}
}

func reject(w http.ResponseWriter, r *http.Request, opts Options, status int, reason string, err error) {
	if opts.Metrics != nil {
		opts.Metrics.IncUploadRejected(reason)
	}
	log.FromContext(r.Context()).Warn(r.Context(), "upload rejected", "reason", reason, "err", err)
	msg := "malformed multipart body"
	if status == http.StatusRequestEntityTooLarge {
		msg = "upload exceeds the maximum total size"
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]any{"success": false, "message": msg})
}

// Cleanup removes a request's staged temp files once next has returned. The
// removal runs in the background; failures are logged only.
func Cleanup(logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, v := reqctx.Attach(r)
			defer func() {
				var paths []string
				for _, f := range v.Files {
					if f.TempPath != "" {
						paths = append(paths, f.TempPath)
					}
				}
				if len(paths) == 0 {
					return
				}
				ctx := r.Context()
				go func() {
					for _, p := range paths {
						if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
							logger.Warn(ctx, "staged upload not removed", "path", p, "err", err)
						}
					}
				}()
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// IsMultipart reports whether r carries a multipart/form-data body.
func IsMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}
