package h5phttp

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
	"github.com/keithlinneman/h5p-web/internal/static"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

type AjaxOptions struct {
	Editor *h5p.Editor
	Player *h5p.Player
	// CoreFS and EditorFS hold the H5P core and editor client files.
	CoreFS   fs.FS
	EditorFS fs.FS
	// Language is used when localization detected none.
	Language string
	Logger   log.Logger
}

// Ajax serves the endpoints the H5P client calls: core and editor files,
// library and content files, the ajax actions and user state.
type Ajax struct {
	editor   *h5p.Editor
	player   *h5p.Player
	core     http.Handler
	files    http.Handler
	language string
}

func NewAjax(opts AjaxOptions) (*Ajax, error) {
	if opts.Editor == nil || opts.Player == nil {
		return nil, xerrors.New("h5phttp: Editor and Player are required")
	}
	if opts.CoreFS == nil || opts.EditorFS == nil {
		return nil, xerrors.New("h5phttp: CoreFS and EditorFS are required")
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	core, err := static.New(static.Options{Root: opts.CoreFS, Name: "core", Logger: opts.Logger})
	if err != nil {
		return nil, xerrors.Wrap(err, "core files")
	}
	files, err := static.New(static.Options{Root: opts.EditorFS, Name: "editor", Logger: opts.Logger})
	if err != nil {
		return nil, xerrors.Wrap(err, "editor files")
	}
	return &Ajax{
		editor:   opts.Editor,
		player:   opts.Player,
		core:     core,
		files:    files,
		language: opts.Language,
	}, nil
}

func (a *Ajax) RegisterRoutes(r chi.Router) {
	r.Get("/core/*", subtree(a.core))
	r.Get("/editor/*", subtree(a.files))
	r.Get("/libraries/{ubername}/*", a.handleLibraryFile)
	r.Get("/content/{contentId}/*", a.handleContentFile)
	r.Get("/temp-files/*", a.handleTemporaryFile)
	r.Get("/params/{contentId}", a.handleParams)
	r.Get("/ajax", a.handleAjaxGet)
	r.Post("/ajax", a.handleAjaxPost)
	r.Get("/contentUserData/{contentId}/{dataType}/{subContentId}", a.handleGetUserData)
	r.Post("/contentUserData/{contentId}/{dataType}/{subContentId}", a.handleSetUserData)
	r.Post("/finishedData", a.handleFinished)
}

func (a *Ajax) handleLibraryFile(w http.ResponseWriter, r *http.Request) {
	name, err := h5p.ParseUbername(urlParam(r, "ubername"))
	if err != nil {
		writeError(w, r, xerrors.WithKind(err, xerrors.KindNotFound))
		return
	}
	file, ok := wildcardPath(r)
	if !ok {
		writeError(w, r, xerrors.NotFoundf("library file %q", urlParam(r, "*")))
		return
	}
	serveFile(w, r, file, func() (io.ReadCloser, error) {
		return a.editor.LibraryFile(r.Context(), name, file)
	}, "public, max-age=3600")
}

func (a *Ajax) handleContentFile(w http.ResponseWriter, r *http.Request) {
	id := h5p.ContentID(urlParam(r, "contentId"))
	file, ok := wildcardPath(r)
	if !ok {
		writeError(w, r, xerrors.NotFoundf("content file %q", urlParam(r, "*")))
		return
	}
	serveFile(w, r, file, func() (io.ReadCloser, error) {
		return a.editor.ContentFile(r.Context(), id, file)
	}, "no-cache")
}

func (a *Ajax) handleTemporaryFile(w http.ResponseWriter, r *http.Request) {
	file, ok := wildcardPath(r)
	if !ok {
		writeError(w, r, xerrors.NotFoundf("temporary file %q", urlParam(r, "*")))
		return
	}
	user := userOf(r)
	serveFile(w, r, file, func() (io.ReadCloser, error) {
		return a.editor.TemporaryFile(r.Context(), file, user)
	}, "no-store")
}

type paramsResponse struct {
	H5P     h5p.ContentMetadata `json:"h5p"`
	Library string              `json:"library"`
	Params  struct {
		Params   json.RawMessage     `json:"params"`
		Metadata h5p.ContentMetadata `json:"metadata"`
	} `json:"params"`
}

func (a *Ajax) handleParams(w http.ResponseWriter, r *http.Request) {
	id := h5p.ContentID(urlParam(r, "contentId"))
	meta, params, err := a.editor.GetContent(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	main, err := meta.MainLibraryName()
	if err != nil {
		writeError(w, r, err)
		return
	}
	var resp paramsResponse
	resp.H5P = meta
	resp.Library = main.MachineName + " " + strconv.Itoa(main.MajorVersion) + "." + strconv.Itoa(main.MinorVersion)
	resp.Params.Params = params
	resp.Params.Metadata = meta
	writeJSON(w, r, http.StatusOK, resp)
}

func (a *Ajax) requestLanguage(r *http.Request) string {
	if lng := r.URL.Query().Get("language"); lng != "" {
		return lng
	}
	return languageOf(r, a.language)
}

func (a *Ajax) handleAjaxGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch action := r.URL.Query().Get("action"); action {
	case "content-type-cache":
		model, err := a.editor.HubModel(ctx, userOf(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, model)
	case "libraries":
		name, err := queryLibrary(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		data, err := a.editor.LibraryData(ctx, name, a.requestLanguage(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, data)
	case "translations":
		a.translations(w, r)
	default:
		writeError(w, r, xerrors.Invalidf("unknown ajax action %q", action))
	}
}

func (a *Ajax) handleAjaxPost(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "libraries":
		a.libraryOverviews(w, r)
	case "translations":
		a.translations(w, r)
	case "files":
		a.uploadFile(w, r)
	case "library-install":
		a.installFromHub(w, r)
	case "library-upload":
		a.uploadPackage(w, r)
	case "filter":
		a.filter(w, r)
	default:
		writeError(w, r, xerrors.Invalidf("unknown ajax action %q", action))
	}
}

func (a *Ajax) libraryOverviews(w http.ResponseWriter, r *http.Request) {
	names, err := parseLibraryNames(bodyStrings(r, reqctx.From(r.Context()), "libraries"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := a.editor.LibraryOverviews(r.Context(), names, userOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (a *Ajax) translations(w http.ResponseWriter, r *http.Request) {
	names, err := parseLibraryNames(bodyStrings(r, reqctx.From(r.Context()), "libraries"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := a.editor.LibraryTranslations(r.Context(), names, a.requestLanguage(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, out)
}

func (a *Ajax) uploadFile(w http.ResponseWriter, r *http.Request) {
	v := reqctx.From(r.Context())
	f, ok := v.FirstFile("file")
	if !ok {
		writeError(w, r, xerrors.Invalidf("no file uploaded"))
		return
	}
	var field struct {
		Type string `json:"type"`
	}
	if raw := bodyString(v, "field"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &field); err != nil {
			writeError(w, r, xerrors.WithKind(xerrors.Wrap(err, "decode field"), xerrors.KindInvalid))
			return
		}
	}
	rc, err := f.Open()
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	tmp, err := a.editor.SaveContentFile(r.Context(), field.Type, f.Filename, f.ContentType, rc, userOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tmp)
}

func (a *Ajax) installFromHub(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if n, err := h5p.ParseUbername(id); err == nil {
		id = n.MachineName
	}
	if id == "" {
		writeError(w, r, xerrors.Invalidf("id is required"))
		return
	}
	user := userOf(r)
	if _, err := a.editor.InstallFromHub(r.Context(), id, user); err != nil {
		writeError(w, r, err)
		return
	}
	model, err := a.editor.HubModel(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, model)
}

type uploadResult struct {
	Package      h5p.PackageResult `json:"package"`
	ContentTypes h5p.HubModel      `json:"contentTypes"`
}

func (a *Ajax) uploadPackage(w http.ResponseWriter, r *http.Request) {
	f, ok := reqctx.From(r.Context()).FirstFile("h5p")
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

	user := userOf(r)
	res, err := a.editor.InstallPackage(r.Context(), zr, user, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	model, err := a.editor.HubModel(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, uploadResult{Package: res, ContentTypes: model})
}

func (a *Ajax) filter(w http.ResponseWriter, r *http.Request) {
	raw := bodyString(reqctx.From(r.Context()), "libraryParameters")
	if raw == "" {
		writeError(w, r, xerrors.Invalidf("libraryParameters is required"))
		return
	}
	out, err := a.editor.FilterParams(r.Context(), json.RawMessage(raw), userOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, out)
}

func userDataKey(r *http.Request) h5p.UserDataKey {
	return h5p.UserDataKey{
		ContentID:    h5p.ContentID(urlParam(r, "contentId")),
		DataType:     urlParam(r, "dataType"),
		SubContentID: urlParam(r, "subContentId"),
		UserID:       userOf(r).ID,
	}
}

func (a *Ajax) handleGetUserData(w http.ResponseWriter, r *http.Request) {
	data, err := a.player.UserData(r.Context(), userDataKey(r))
	switch {
	case err == nil:
		writeSuccess(w, r, string(data))
	case xerrors.IsNotFound(err):
		// the client treats false as "nothing saved"
		writeSuccess(w, r, false)
	default:
		writeError(w, r, err)
	}
}

func (a *Ajax) handleSetUserData(w http.ResponseWriter, r *http.Request) {
	v := reqctx.From(r.Context())
	var data []byte
	if s := bodyString(v, "data"); s != "" && s != "0" {
		data = []byte(s)
	}
	if err := a.player.SaveUserData(r.Context(), userDataKey(r), data); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, nil)
}

func (a *Ajax) handleFinished(w http.ResponseWriter, r *http.Request) {
	v := reqctx.From(r.Context())
	num := func(key string) float64 {
		f, _ := strconv.ParseFloat(strings.TrimSpace(bodyString(v, key)), 64)
		return f
	}
	res := h5p.FinishedResult{
		ContentID: h5p.ContentID(bodyString(v, "contentId")),
		Score:     num("score"),
		MaxScore:  num("maxScore"),
		Opened:    int64(num("opened")),
		Finished:  int64(num("finished")),
		Time:      int64(num("time")),
	}
	if err := a.player.SaveFinished(r.Context(), res, userOf(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, nil)
}

// openArchive opens an uploaded .h5p package held in memory or on disk.
func openArchive(f reqctx.File) (*zip.Reader, func(), error) {
	if f.TempPath == "" {
		zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
		if err != nil {
			return nil, nil, xerrors.WithKind(xerrors.Wrapf(err, "open package %s", f.Filename), xerrors.KindInvalid)
		}
		return zr, func() {}, nil
	}
	fh, err := os.Open(f.TempPath)
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "open staged package %s", f.Filename)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, xerrors.Wrapf(err, "stat staged package %s", f.Filename)
	}
	zr, err := zip.NewReader(fh, info.Size())
	if err != nil {
		fh.Close()
		return nil, nil, xerrors.WithKind(xerrors.Wrapf(err, "open package %s", f.Filename), xerrors.KindInvalid)
	}
	return zr, func() { fh.Close() }, nil
}
