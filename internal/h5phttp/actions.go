package h5phttp

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/webassets"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// Metrics records export outcomes. kind is "h5p" or "html".
type Metrics interface {
	IncExport(kind, result string)
}

type nopMetrics struct{}

func (nopMetrics) IncExport(string, string) {}

type ActionOptions struct {
	Editor   *h5p.Editor
	Player   *h5p.Player
	Language string
	Metrics  Metrics
	Logger   log.Logger
}

// Actions serves the pages and form endpoints of the example editor UI:
// play, download, edit, new and delete.
type Actions struct {
	editor   *h5p.Editor
	player   *h5p.Player
	language string
	metrics  Metrics
}

func NewActions(opts ActionOptions) (*Actions, error) {
	if opts.Editor == nil || opts.Player == nil {
		return nil, xerrors.New("h5phttp: Editor and Player are required")
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Actions{editor: opts.Editor, player: opts.Player, language: opts.Language, metrics: opts.Metrics}, nil
}

func (a *Actions) RegisterRoutes(r chi.Router) {
	r.Get("/play/{contentId}", a.handlePlay)
	r.Get("/download/{contentId}", a.handleDownload)
	r.Get("/edit/{contentId}", a.handleEditPage)
	r.Post("/edit/{contentId}", a.handleSave)
	r.Get("/new", a.handleEditPage)
	r.Post("/new", a.handleSave)
	r.Get("/delete/{contentId}", a.handleDelete)
}

func (a *Actions) base() string {
	return basePrefix(a.editor.Config())
}

func writePage(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := webassets.Render(&buf, name, data); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (a *Actions) handlePlay(w http.ResponseWriter, r *http.Request) {
	id := h5p.ContentID(urlParam(r, "contentId"))
	lng := languageOf(r, a.language)
	model, err := a.player.Model(r.Context(), id, userOf(r), lng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, r, webassets.PlayerPage, webassets.PlayerData{
		BaseURL:     a.base(),
		Language:    lng,
		ContentID:   string(model.ContentID),
		Title:       model.Title,
		Scripts:     model.Assets.Scripts,
		Styles:      model.Assets.Styles,
		Integration: model.Integration,
	})
}

func (a *Actions) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "contentId")
	var buf bytes.Buffer
	if err := a.editor.ExportPackage(r.Context(), h5p.ContentID(id), &buf); err != nil {
		a.metrics.IncExport("h5p", "error")
		writeError(w, r, err)
		return
	}
	a.metrics.IncExport("h5p", "ok")
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+id+".h5p")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (a *Actions) handleEditPage(w http.ResponseWriter, r *http.Request) {
	id := h5p.ContentID(urlParam(r, "contentId"))
	lng := languageOf(r, a.language)
	model, err := a.editor.RenderEditorModel(r.Context(), id, lng, userOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	save := a.editor.Config().URL("new")
	if id != "" {
		save = a.editor.Config().URL("edit", string(id))
	}
	params := template.JS("null")
	if len(model.Params) > 0 {
		// stored parameters are validated JSON
		params = template.JS(model.Params)
	}
	writePage(w, r, webassets.EditorPage, webassets.EditorData{
		BaseURL:     a.base(),
		Language:    lng,
		ContentID:   string(id),
		SaveURL:     save,
		Scripts:     model.Assets.Scripts,
		Styles:      model.Assets.Styles,
		Integration: model.Integration,
		Library:     model.Library,
		Metadata:    model.Metadata,
		Params:      params,
	})
}

// saveRequest is the body the editor page posts.
type saveRequest struct {
	Library  string              `json:"library"`
	Params   json.RawMessage     `json:"params"`
	Metadata h5p.ContentMetadata `json:"metadata"`
}

type saveResponse struct {
	ContentID h5p.ContentID `json:"contentId"`
}

func (a *Actions) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeBody(reqctx.From(r.Context()), &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Library) == "" {
		writeError(w, r, xerrors.Invalidf("library is required"))
		return
	}
	meta := req.Metadata
	meta.MainLibrary = req.Library

	id := h5p.ContentID(urlParam(r, "contentId"))
	saved, err := a.editor.SaveContent(r.Context(), id, meta, req.Params, userOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, saveResponse{ContentID: saved})
}

func (a *Actions) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := h5p.ContentID(urlParam(r, "contentId"))
	if err := a.editor.DeleteContent(r.Context(), id, userOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
