package h5phttp

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestAjax_CoreAndEditorFiles(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/core/js/h5p.js")
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "/* js/h5p.js */" {
		t.Fatalf("core body = %q", rec.Body.String())
	}
	wantStatus(t, e.get(t, "/h5p/editor/scripts/h5peditor.js"), http.StatusOK)
	wantStatus(t, e.get(t, "/h5p/core/js/missing.js"), http.StatusNotFound)
	wantStatus(t, e.get(t, "/h5p/core/js/../js/h5p.js"), http.StatusNotFound)
}

func TestAjax_LibraryFiles(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/libraries/H5P.Quiz-1.2/js/quiz.js")
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "var quiz = 1;" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Fatalf("Content-Type = %q", ct)
	}

	for _, p := range []string{
		"/h5p/libraries/H5P.Quiz-1.2/js/nope.js",
		"/h5p/libraries/H5P.Nope-1.0/js/quiz.js",
		"/h5p/libraries/not-an-ubername/js/quiz.js",
		"/h5p/libraries/H5P.Quiz-1.2/js/../../FontAwesome-4.5/styles/fa.css",
	} {
		if rec := e.get(t, p); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", p, rec.Code)
		}
	}
}

func TestAjax_ContentFilesAndParams(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Quiz one")

	rec := e.get(t, "/h5p/params/"+string(id))
	wantStatus(t, rec, http.StatusOK)
	resp := decode[paramsResponse](t, rec.Body.Bytes())
	if resp.Library != "H5P.Quiz 1.2" || resp.H5P.Title != "Quiz one" {
		t.Fatalf("params response = %+v", resp)
	}
	if string(resp.Params.Params) != `{"q":"?"}` {
		t.Fatalf("params = %s", resp.Params.Params)
	}

	wantStatus(t, e.get(t, "/h5p/params/missing"), http.StatusNotFound)
	wantStatus(t, e.get(t, "/h5p/content/"+string(id)+"/images/none.png"), http.StatusNotFound)
}

func TestAjax_GetActions(t *testing.T) {
	e := newTestEnv(t)

	rec := e.get(t, "/h5p/ajax?action=libraries&machineName=H5P.Quiz&majorVersion=1&minorVersion=2")
	wantStatus(t, rec, http.StatusOK)
	data := decode[map[string]any](t, rec.Body.Bytes())
	if data["name"] != "H5P.Quiz" {
		t.Fatalf("library data = %v", data)
	}

	wantStatus(t, e.get(t, "/h5p/ajax?action=libraries&machineName=H5P.Quiz&majorVersion=x&minorVersion=2"), http.StatusBadRequest)
	wantStatus(t, e.get(t, "/h5p/ajax?action=content-type-cache"), http.StatusOK)

	rec = e.get(t, "/h5p/ajax?action=bogus")
	wantStatus(t, rec, http.StatusBadRequest)
	env := decode[envelope](t, rec.Body.Bytes())
	if env.Success || env.ErrorCode != "invalid" {
		t.Fatalf("error envelope = %+v", env)
	}
}

func TestAjax_PostLibrariesAndTranslations(t *testing.T) {
	e := newTestEnv(t)

	rec := e.postJSON(t, "/h5p/ajax?action=libraries", `{"libraries":["H5P.Quiz 1.2"]}`)
	wantStatus(t, rec, http.StatusOK)
	list := decode[[]map[string]any](t, rec.Body.Bytes())
	if len(list) != 1 || list[0]["uberName"] != "H5P.Quiz-1.2" {
		t.Fatalf("overviews = %v", list)
	}

	form := url.Values{"libraries[]": {"FontAwesome-4.5"}}
	rec = e.do(t, http.MethodPost, "/h5p/ajax?action=translations&language=de", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	wantStatus(t, rec, http.StatusOK)
	env := decode[struct {
		Success bool                       `json:"success"`
		Data    map[string]json.RawMessage `json:"data"`
	}](t, rec.Body.Bytes())
	if !env.Success || string(env.Data["FontAwesome-4.5"]) != `{"x":"y"}` {
		t.Fatalf("translations = %+v", env)
	}

	wantStatus(t, e.postJSON(t, "/h5p/ajax?action=libraries", `{"libraries":["bad name"]}`), http.StatusBadRequest)
}

func TestAjax_FileUploadThenServeTemporary(t *testing.T) {
	e := newTestEnv(t)

	ct, body := multipartBody(t, "file", "My Photo.png", []byte("PNG"), map[string]string{"field": `{"type":"image"}`})
	rec := e.do(t, http.MethodPost, "/h5p/ajax?action=files", ct, body)
	wantStatus(t, rec, http.StatusOK)
	tmp := decode[struct {
		Path string `json:"path"`
	}](t, rec.Body.Bytes())
	if !strings.HasPrefix(tmp.Path, "images/My-Photo-") || !strings.HasSuffix(tmp.Path, ".png#tmp") {
		t.Fatalf("temp path = %q", tmp.Path)
	}

	rec = e.get(t, "/h5p/temp-files/"+strings.TrimSuffix(tmp.Path, "#tmp"))
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "PNG" {
		t.Fatalf("temp body = %q", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("temporary files must not be cached")
	}

	ct, body = multipartBody(t, "file", "tool.exe", []byte("MZ"), nil)
	wantStatus(t, e.do(t, http.MethodPost, "/h5p/ajax?action=files", ct, body), http.StatusBadRequest)
	wantStatus(t, e.postJSON(t, "/h5p/ajax?action=files", `{}`), http.StatusBadRequest)
}

func TestAjax_Filter(t *testing.T) {
	e := newTestEnv(t)

	rec := e.postJSON(t, "/h5p/ajax?action=filter", `{"libraryParameters":"{\"q\":1}"}`)
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
	wantStatus(t, e.postJSON(t, "/h5p/ajax?action=filter", `{}`), http.StatusBadRequest)
}

func TestAjax_LibraryInstallHubDisabled(t *testing.T) {
	e := newTestEnv(t)
	wantStatus(t, e.do(t, http.MethodPost, "/h5p/ajax?action=library-install&id=H5P.Quiz", "", nil), http.StatusServiceUnavailable)
	wantStatus(t, e.do(t, http.MethodPost, "/h5p/ajax?action=library-install", "", nil), http.StatusBadRequest)
}

func TestAjax_ContentUserData(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Quiz")
	target := "/h5p/contentUserData/" + string(id) + "/state/0"

	rec := e.get(t, target)
	wantStatus(t, rec, http.StatusOK)
	if rec.Body.String() != `{"success":true,"data":false}`+"\n" {
		t.Fatalf("empty state body = %q", rec.Body.String())
	}

	form := url.Values{"data": {`{"answer":2}`}, "preload": {"1"}, "invalidate": {"0"}}
	rec = e.do(t, http.MethodPost, target, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	wantStatus(t, rec, http.StatusOK)

	rec = e.get(t, target)
	wantStatus(t, rec, http.StatusOK)
	got := decode[envelope](t, rec.Body.Bytes())
	if got.Data != `{"answer":2}` {
		t.Fatalf("state = %v", got.Data)
	}

	// "0" clears the saved state
	rec = e.do(t, http.MethodPost, target, "application/x-www-form-urlencoded", strings.NewReader("data=0"))
	wantStatus(t, rec, http.StatusOK)
	if rec := e.get(t, target); !strings.Contains(rec.Body.String(), `"data":false`) {
		t.Fatalf("state not cleared: %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/h5p/contentUserData/missing/state/0", "application/x-www-form-urlencoded", strings.NewReader("data=x"))
	wantStatus(t, rec, http.StatusNotFound)
}

func TestAjax_FinishedData(t *testing.T) {
	e := newTestEnv(t)
	id := e.save(t, "Quiz")

	rec := e.postJSON(t, "/h5p/finishedData", `{"contentId":"`+string(id)+`","score":3,"maxScore":5,"opened":1700000000,"finished":1700000100}`)
	wantStatus(t, rec, http.StatusOK)

	rec = e.postJSON(t, "/h5p/finishedData", `{"contentId":"`+string(id)+`","score":9,"maxScore":5}`)
	wantStatus(t, rec, http.StatusBadRequest)
}
