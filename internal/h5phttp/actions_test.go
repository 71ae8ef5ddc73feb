package h5phttp

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/h5p-web/internal/h5p"
)

func TestActions_Play(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Play me")

	rec := e.get(t, "/h5p/play/"+string(id))
	wantStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{
		"window.H5PIntegration = ",
		`"cid-` + string(id) + `"`,
		`<script src="/h5p/libraries/H5P.Quiz-1.2/js/quiz.js"></script>`,
		`<link rel="stylesheet" href="/h5p/libraries/FontAwesome-4.5/styles/fa.css">`,
		"<title>Play me</title>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("player page missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}

	wantStatus(t, e.get(t, "/h5p/play/missing"), http.StatusNotFound)
}

func TestActions_NewEditSave(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/new")
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `action="/h5p/new"`) {
		t.Fatalf("new page does not post to /h5p/new")
	}

	rec = e.postJSON(t, "/h5p/new", `{"library":"H5P.Quiz 1.2","params":{"q":"new"},"metadata":{"title":"Created"}}`)
	wantStatus(t, rec, http.StatusOK)
	saved := decode[saveResponse](t, rec.Body.Bytes())
	if saved.ContentID == "" {
		t.Fatal("no content id returned")
	}

	rec = e.get(t, "/h5p/edit/"+string(saved.ContentID))
	wantStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, `action="/h5p/edit/`+string(saved.ContentID)+`"`) {
		t.Fatalf("edit page does not post back to the item")
	}
	if !strings.Contains(body, `var params = {"q":"new"};`) {
		t.Fatalf("edit page missing stored params")
	}

	rec = e.postJSON(t, "/h5p/edit/"+string(saved.ContentID), `{"library":"H5P.Quiz 1.2","params":{"q":"changed"},"metadata":{"title":"Renamed"}}`)
	wantStatus(t, rec, http.StatusOK)
	meta, params, err := e.editor.GetContent(t.Context(), saved.ContentID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "Renamed" || string(params) != `{"q":"changed"}` {
		t.Fatalf("update not stored: %+v %s", meta, params)
	}

	wantStatus(t, e.postJSON(t, "/h5p/new", `{"params":{}}`), http.StatusBadRequest)
	wantStatus(t, e.postJSON(t, "/h5p/new", `{"library":"H5P.Quiz 1.2","params":{},"metadata":{"title":""}}`), http.StatusBadRequest)
	wantStatus(t, e.postJSON(t, "/h5p/edit/missing", `{"library":"H5P.Quiz 1.2","params":{},"metadata":{"title":"x"}}`), http.StatusNotFound)
	wantStatus(t, e.do(t, http.MethodPost, "/h5p/new", "text/plain", strings.NewReader("x")), http.StatusBadRequest)
}

func TestActions_Delete(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Doomed")

	rec := e.get(t, "/h5p/delete/"+string(id))
	wantStatus(t, rec, http.StatusFound)
	if rec.Header().Get("Location") != "/" {
		t.Fatalf("Location = %q", rec.Header().Get("Location"))
	}
	wantStatus(t, e.get(t, "/h5p/play/"+string(id)), http.StatusNotFound)
	wantStatus(t, e.get(t, "/h5p/delete/"+string(id)), http.StatusNotFound)
}

func TestActions_DownloadThenReinstall(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Packaged")

	rec := e.get(t, "/h5p/download/"+string(id))
	wantStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename="+string(id)+".h5p" {
		t.Fatalf("Content-Disposition = %q", got)
	}
	pkg := rec.Body.Bytes()
	if !bytes.HasPrefix(pkg, []byte("PK")) {
		t.Fatal("download is not a zip archive")
	}

	ct, body := multipartBody(t, "file", "packaged.h5p", pkg, nil)
	rec = e.do(t, http.MethodPost, "/h5p/libraries", ct, body)
	wantStatus(t, rec, http.StatusOK)
	res := decode[installResponse](t, rec.Body.Bytes())
	if res.Installed != 0 || res.Skipped != 2 {
		t.Fatalf("reinstall = %+v", res)
	}

	ct, body = multipartBody(t, "h5p", "packaged.h5p", pkg, nil)
	rec = e.do(t, http.MethodPost, "/h5p/ajax?action=library-upload", ct, body)
	wantStatus(t, rec, http.StatusOK)

	ct, body = multipartBody(t, "file", "broken.h5p", []byte("not a zip"), nil)
	wantStatus(t, e.do(t, http.MethodPost, "/h5p/libraries", ct, body), http.StatusBadRequest)

	wantStatus(t, e.get(t, "/h5p/download/missing"), http.StatusNotFound)
}

func TestLibraryAdmin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/libraries")
	wantStatus(t, rec, http.StatusOK)
	if list := decode[[]map[string]any](t, rec.Body.Bytes()); len(list) != 2 {
		t.Fatalf("libraries = %v", list)
	}

	rec = e.get(t, "/h5p/libraries/FontAwesome-4.5")
	wantStatus(t, rec, http.StatusOK)
	info := decode[map[string]any](t, rec.Body.Bytes())
	if info["dependentsCount"] != float64(1) || info["canBeDeleted"] != false {
		t.Fatalf("info = %v", info)
	}
	wantStatus(t, e.get(t, "/h5p/libraries/H5P.Nope-1.0"), http.StatusNotFound)

	rec = e.do(t, http.MethodPatch, "/h5p/libraries/H5P.Quiz-1.2", "application/json", strings.NewReader(`{"restricted":true}`))
	wantStatus(t, rec, http.StatusNoContent)
	rec = e.get(t, "/h5p/libraries/H5P.Quiz-1.2")
	if !strings.Contains(rec.Body.String(), `"restricted":true`) {
		t.Fatalf("restricted flag not stored: %s", rec.Body.String())
	}
	wantStatus(t, e.do(t, http.MethodPatch, "/h5p/libraries/H5P.Quiz-1.2", "application/json", strings.NewReader(`{}`)), http.StatusBadRequest)

	wantStatus(t, e.do(t, http.MethodDelete, "/h5p/libraries/FontAwesome-4.5", "", nil), http.StatusConflict)
	wantStatus(t, e.do(t, http.MethodDelete, "/h5p/libraries/H5P.Quiz-1.2", "", nil), http.StatusNoContent)
	wantStatus(t, e.do(t, http.MethodDelete, "/h5p/libraries/FontAwesome-4.5", "", nil), http.StatusNoContent)
}

func TestContentTypeCacheAdmin(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/content-type-cache/update")
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != `{"lastUpdate":null}`+"\n" {
		t.Fatalf("fresh status = %q", rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/h5p/content-type-cache/update", "", nil)
	wantStatus(t, rec, http.StatusOK)
	st := decode[struct {
		LastUpdate *string `json:"lastUpdate"`
	}](t, rec.Body.Bytes())
	if st.LastUpdate == nil {
		t.Fatal("lastUpdate still null after update")
	}
	if _, err := time.Parse(time.RFC3339, *st.LastUpdate); err != nil {
		t.Fatalf("lastUpdate %q is not RFC3339: %v", *st.LastUpdate, err)
	}
}

func TestExport_SingleFileHTML(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Exported")

	rec := e.get(t, "/h5p/html/"+string(id))
	wantStatus(t, rec, http.StatusOK)
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename="+string(id)+".html" {
		t.Fatalf("Content-Disposition = %q", got)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "<!doctype html>") || !strings.Contains(body, `lang="en"`) {
		t.Fatalf("unexpected bundle head: %.80s", body)
	}
	if !strings.Contains(body, "var quiz = 1;") {
		t.Fatal("library script not inlined")
	}

	rec = e.get(t, "/h5p/html/missing")
	wantStatus(t, rec, http.StatusNotFound)
	if rec.Header().Get("Content-Disposition") != "" {
		t.Fatal("failed export must not set an attachment header")
	}
}

func TestExport_FilenameIsVerbatimID(t *testing.T) {
	tests := []struct {
		name   string
		id     h5p.ContentID
		target string
	}{
		{"space", "my quiz", "/h5p/html/my%20quiz"},
		{"non-ascii", "résumé", "/h5p/html/r%C3%A9sum%C3%A9"},
		{"non-canonical escape", "Ab", "/h5p/html/%41b"},
		{"escaped percent", "100%", "/h5p/html/100%25"},
		{"plus and quote", "a+b'c", "/h5p/html/a+b'c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.saveAs(t, tt.id)

			rec := e.get(t, tt.target)
			wantStatus(t, rec, http.StatusOK)
			want := "attachment; filename=" + string(tt.id) + ".html"
			if got := rec.Header().Get("Content-Disposition"); got != want {
				t.Fatalf("Content-Disposition = %q, want %q", got, want)
			}
		})
	}
}

func TestStartPage(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Listed <b>")

	rec := e.get(t, "/")
	wantStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, "Listed &lt;b&gt;") {
		t.Fatal("content title not listed")
	}
	if !strings.Contains(body, `href="/h5p/play/`+string(id)+`"`) {
		t.Fatal("missing play link")
	}
}

func TestConstructors_RequireDependencies(t *testing.T) {
	if _, err := NewExport(nil, "", nil); err == nil {
		t.Error("NewExport: nil exporter must be rejected")
	}
	if _, err := NewActions(ActionOptions{}); err == nil {
		t.Error("NewActions: missing facades must be rejected")
	}
	if _, err := NewAjax(AjaxOptions{}); err == nil {
		t.Error("NewAjax: missing facades must be rejected")
	}
	if _, err := NewLibraryAdmin(nil); err == nil {
		t.Error("NewLibraryAdmin: nil editor must be rejected")
	}
	if _, err := NewContentTypeCacheAdmin(nil); err == nil {
		t.Error("NewContentTypeCacheAdmin: nil cache must be rejected")
	}
	if _, err := NewStartPage(nil, ""); err == nil {
		t.Error("NewStartPage: nil editor must be rejected")
	}
}
