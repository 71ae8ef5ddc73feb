package webassets

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"
)

func TestTemplatesFS_HasPages(t *testing.T) {
	fsys := TemplatesFS()
	for _, name := range []string{StartPage, PlayerPage, EditorPage} {
		info, err := fs.Stat(fsys, name)
		if err != nil {
			t.Fatalf("%s not embedded: %v", name, err)
		}
		if info.IsDir() || info.Size() == 0 {
			t.Fatalf("%s must be a non-empty file", name)
		}
	}
	if _, err := fs.Stat(fsys, "../embed.go"); err == nil {
		t.Fatal("templates fs must not escape its root")
	}
}

func TestRender_StartPage(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, StartPage, StartData{
		BaseURL:  "/h5p",
		Language: "de",
		Contents: []ContentRow{
			{ID: "42", Title: "Quiz <1>", MainLibrary: "H5P.Quiz"},
		},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`<html lang="de">`,
		`href="/h5p/new"`,
		`href="/h5p/play/42"`,
		`href="/h5p/edit/42"`,
		`href="/h5p/download/42"`,
		`href="/h5p/html/42"`,
		"Quiz &lt;1&gt;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("start page missing %q", want)
		}
	}
}

func TestRender_StartPageEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, StartPage, StartData{BaseURL: "/h5p"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), `class="empty"`) {
		t.Fatal("empty listing should render the empty notice")
	}
}

func TestRender_PlayerIntegrationIsJSON(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, PlayerPage, PlayerData{
		BaseURL:     "/h5p",
		ContentID:   "7",
		Title:       "T",
		Scripts:     []string{"/h5p/core/js/h5p.js"},
		Styles:      []string{"/h5p/core/styles/h5p.css"},
		Integration: map[string]any{"baseUrl": "</script>"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `<script src="/h5p/core/js/h5p.js"></script>`) {
		t.Error("missing core script tag")
	}
	if !strings.Contains(out, `<link rel="stylesheet" href="/h5p/core/styles/h5p.css">`) {
		t.Error("missing core style tag")
	}
	if !strings.Contains(out, `window.H5PIntegration = {"baseUrl":"\u003c/script\u003e"};`) {
		t.Errorf("integration not escaped as JSON: %s", out)
	}
	if !strings.Contains(out, `data-content-id="7"`) {
		t.Error("missing content container")
	}
}

func TestRender_UnknownPage(t *testing.T) {
	if err := Render(&bytes.Buffer{}, "nope.html", nil); err == nil {
		t.Fatal("expected error for unknown page")
	}
}
