package h5phttp

import (
	"net/http"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/webassets"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// StartPage lists the stored content with links to every action.
type StartPage struct {
	editor   *h5p.Editor
	language string
}

func NewStartPage(editor *h5p.Editor, language string) (*StartPage, error) {
	if editor == nil {
		return nil, xerrors.New("h5phttp: Editor is required")
	}
	if language == "" {
		language = "en"
	}
	return &StartPage{editor: editor, language: language}, nil
}

func (s *StartPage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list, err := s.editor.ListContent(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows := make([]webassets.ContentRow, 0, len(list))
	for _, c := range list {
		rows = append(rows, webassets.ContentRow{ID: string(c.ID), Title: c.Title, MainLibrary: c.MainLibrary})
	}
	writePage(w, r, webassets.StartPage, webassets.StartData{
		BaseURL:  basePrefix(s.editor.Config()),
		Language: languageOf(r, s.language),
		Contents: rows,
	})
}
