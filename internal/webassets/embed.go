// Package webassets embeds the HTML pages the server renders itself: the
// start page and the player and editor shells.
package webassets

import (
	"embed"
	"html/template"
	"io"
	"io/fs"

	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

//go:embed templates
var embedded embed.FS

var pages = template.Must(template.New("pages").ParseFS(embedded, "templates/*.html"))

// Page names.
const (
	StartPage  = "start.html"
	PlayerPage = "player.html"
	EditorPage = "editor.html"
)

// ContentRow is one listed content item on the start page.
type ContentRow struct {
	ID          string
	Title       string
	MainLibrary string
}

// StartData renders StartPage.
type StartData struct {
	BaseURL  string
	Language string
	Contents []ContentRow
}

// PlayerData renders PlayerPage. Integration is serialized into the page as
// the H5PIntegration global.
type PlayerData struct {
	BaseURL     string
	Language    string
	ContentID   string
	Title       string
	Scripts     []string
	Styles      []string
	Integration any
}

// EditorData renders EditorPage. ContentID is empty for new content.
type EditorData struct {
	BaseURL     string
	Language    string
	ContentID   string
	SaveURL     string
	Scripts     []string
	Styles      []string
	Integration any
	Library     string
	Metadata    any
	Params      template.JS
}

// Render executes page name into w.
func Render(w io.Writer, name string, data any) error {
	t := pages.Lookup(name)
	if t == nil {
		return xerrors.Newf("webassets: unknown page %q", name)
	}
	if err := t.Execute(w, data); err != nil {
		return xerrors.Wrapf(err, "render %s", name)
	}
	return nil
}

// TemplatesFS returns the raw template files.
func TemplatesFS() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(xerrors.Wrap(err, "webassets: templates subfs"))
	}
	return sub
}
