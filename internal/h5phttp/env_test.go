package h5phttp

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/h5p/fsstore"
	"github.com/keithlinneman/h5p-web/internal/httpmw"
	"github.com/keithlinneman/h5p-web/internal/upload"
)

type testEnv struct {
	dir     string
	cfg     *h5p.Config
	editor  *h5p.Editor
	player  *h5p.Player
	cache   *h5p.ContentTypeCache
	handler http.Handler
}

func coreFS() fstest.MapFS {
	m := fstest.MapFS{}
	for _, s := range h5p.CoreScripts {
		m[s] = &fstest.MapFile{Data: []byte("/* " + s + " */")}
	}
	for _, s := range h5p.CoreStyles {
		m[s] = &fstest.MapFile{Data: []byte("/* " + s + " */")}
	}
	return m
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := h5p.DefaultConfig()
	cfg.MaxFileSize = 4096

	content, err := fsstore.NewContentStore(filepath.Join(dir, "content"))
	if err != nil {
		t.Fatal(err)
	}
	libraries, err := fsstore.NewLibraryStore(filepath.Join(dir, "libraries"))
	if err != nil {
		t.Fatal(err)
	}
	userData, err := fsstore.NewUserDataStore(filepath.Join(dir, "user-data"))
	if err != nil {
		t.Fatal(err)
	}
	temp, err := fsstore.NewTempStore(filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := h5p.NewContentTypeCache(h5p.ContentTypeCacheOptions{Config: &cfg, Dir: filepath.Join(dir, "user-data")})
	if err != nil {
		t.Fatal(err)
	}
	translate := func(key, lang string) string { return lang + ":" + key }

	e := &testEnv{dir: dir, cfg: &cfg, cache: cache}
	e.editor, err = h5p.NewEditor(h5p.EditorOptions{
		Config: &cfg, Content: content, Libraries: libraries, UserData: userData,
		Temporary: temp, ContentTypeCache: cache, Translate: translate,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.player, err = h5p.NewPlayer(h5p.PlayerOptions{
		Config: &cfg, Content: content, Libraries: libraries, UserData: userData, Translate: translate,
	})
	if err != nil {
		t.Fatal(err)
	}
	exporter, err := h5p.NewHTMLExporter(h5p.ExporterOptions{
		Config: &cfg, Content: content, Libraries: libraries, CoreFS: coreFS(), Translate: translate,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := libraries.Install(ctx, h5p.Library{
		LibraryName:  h5p.LibraryName{MachineName: "FontAwesome", MajorVersion: 4, MinorVersion: 5},
		Title:        "Font Awesome",
		PreloadedCSS: []h5p.FilePath{{Path: "styles/fa.css"}},
	}, fstest.MapFS{
		"styles/fa.css":    &fstest.MapFile{Data: []byte(".fa{}")},
		"language/de.json": &fstest.MapFile{Data: []byte(`{"x":"y"}`)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := libraries.Install(ctx, h5p.Library{
		LibraryName:           h5p.LibraryName{MachineName: "H5P.Quiz", MajorVersion: 1, MinorVersion: 2},
		Title:                 "Quiz",
		Runnable:              1,
		PreloadedJS:           []h5p.FilePath{{Path: "js/quiz.js"}},
		PreloadedDependencies: []h5p.LibraryName{{MachineName: "FontAwesome", MajorVersion: 4, MinorVersion: 5}},
	}, fstest.MapFS{
		"js/quiz.js":     &fstest.MapFile{Data: []byte("var quiz = 1;")},
		"semantics.json": &fstest.MapFile{Data: []byte(`[]`)},
	}); err != nil {
		t.Fatal(err)
	}

	ajax, err := NewAjax(AjaxOptions{
		Editor: e.editor, Player: e.player, CoreFS: coreFS(),
		EditorFS: fstest.MapFS{"scripts/h5peditor.js": &fstest.MapFile{Data: []byte("/* editor */")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	actions, err := NewActions(ActionOptions{Editor: e.editor, Player: e.player})
	if err != nil {
		t.Fatal(err)
	}
	admin, err := NewLibraryAdmin(e.editor)
	if err != nil {
		t.Fatal(err)
	}
	cacheAdmin, err := NewContentTypeCacheAdmin(cache)
	if err != nil {
		t.Fatal(err)
	}
	export, err := NewExport(exporter, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	start, err := NewStartPage(e.editor, "")
	if err != nil {
		t.Fatal(err)
	}

	r := chi.NewRouter()
	r.Use(
		httpmw.RequestContext,
		httpmw.JSONBody(httpmw.DefaultJSONLimit),
		httpmw.FormBody(1<<20),
		upload.Middleware(upload.Options{MaxTotalSize: 1 << 20}),
		httpmw.InjectUser(httpmw.DefaultUser),
	)
	export.RegisterRoutes(r)
	r.Route(cfg.BaseURL, func(r chi.Router) {
		ajax.RegisterRoutes(r)
		actions.RegisterRoutes(r)
		admin.RegisterRoutes(r)
		cacheAdmin.RegisterRoutes(r)
	})
	r.Get("/", start.ServeHTTP)
	e.handler = r
	return e
}

func (e *testEnv) save(t *testing.T, title string) h5p.ContentID {
	t.Helper()
	id, err := e.editor.SaveContent(context.Background(), "", h5p.ContentMetadata{Title: title, MainLibrary: "H5P.Quiz-1.2"}, []byte(`{"q":"?"}`), httpmw.DefaultUser)
	if err != nil {
		t.Fatalf("SaveContent: %v", err)
	}
	return id
}

// saveAs stores content under an exact id by moving a saved item on disk.
func (e *testEnv) saveAs(t *testing.T, id h5p.ContentID) {
	t.Helper()
	saved := e.save(t, string(id))
	root := filepath.Join(e.dir, "content")
	if err := os.Rename(filepath.Join(root, string(saved)), filepath.Join(root, string(id))); err != nil {
		t.Fatalf("rename content dir: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodGet, target, "", nil)
}

func (e *testEnv) postJSON(t *testing.T, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, target, "application/json", strings.NewReader(body))
}

// multipartBody builds a form with one file and optional fields.
func multipartBody(t *testing.T, field, filename string, data []byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType(), &buf
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
