package h5phttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// LibraryAdmin is the library administration REST API, registered under
// /libraries.
type LibraryAdmin struct {
	editor *h5p.Editor
}

func NewLibraryAdmin(editor *h5p.Editor) (*LibraryAdmin, error) {
	if editor == nil {
		return nil, xerrors.New("h5phttp: Editor is required")
	}
	return &LibraryAdmin{editor: editor}, nil
}

// RegisterRoutes registers full /libraries paths rather than mounting a
// subrouter, so they share a tree with the library file route of Ajax.
func (l *LibraryAdmin) RegisterRoutes(r chi.Router) {
	r.Get("/libraries", l.handleList)
	r.Post("/libraries", l.handleUpload)
	r.Get("/libraries/{ubername}", l.handleGet)
	r.Patch("/libraries/{ubername}", l.handlePatch)
	r.Delete("/libraries/{ubername}", l.handleDelete)
}

func libraryParam(r *http.Request) (h5p.LibraryName, error) {
	n, err := h5p.ParseUbername(urlParam(r, "ubername"))
	if err != nil {
		return h5p.LibraryName{}, xerrors.WithKind(err, xerrors.KindNotFound)
	}
	return n, nil
}

func (l *LibraryAdmin) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := l.editor.ListLibraries(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

type installResponse struct {
	Installed int `json:"installed"`
	Skipped   int `json:"skipped"`
}

func (l *LibraryAdmin) handleUpload(w http.ResponseWriter, r *http.Request) {
	v := reqctx.From(r.Context())
	f, ok := v.FirstFile("file")
	if !ok {
		writeError(w, r, xerrors.Invalidf("no package uploaded"))
		return
	}
	zr, done, err := openArchive(f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer done()

	res, err := l.editor.InstallPackage(r.Context(), zr, userOf(r), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, installResponse{Installed: len(res.Installed), Skipped: len(res.Skipped)})
}

func (l *LibraryAdmin) handleGet(w http.ResponseWriter, r *http.Request) {
	n, err := libraryParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := l.editor.GetLibrary(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

type patchRequest struct {
	Restricted *bool `json:"restricted"`
}

func (l *LibraryAdmin) handlePatch(w http.ResponseWriter, r *http.Request) {
	n, err := libraryParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req patchRequest
	if err := decodeBody(reqctx.From(r.Context()), &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Restricted == nil {
		writeError(w, r, xerrors.Invalidf("restricted is required"))
		return
	}
	if err := l.editor.SetLibraryRestricted(r.Context(), n, *req.Restricted, userOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (l *LibraryAdmin) handleDelete(w http.ResponseWriter, r *http.Request) {
	n, err := libraryParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := l.editor.DeleteLibrary(r.Context(), n, userOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
