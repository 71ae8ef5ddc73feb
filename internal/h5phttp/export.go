package h5phttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// ExportPath is where the single-file HTML export is served.
const ExportPath = "/h5p/html/{contentId}"

// Export serves content as one self-contained HTML document.
type Export struct {
	exporter *h5p.HTMLExporter
	language string
	metrics  Metrics
}

func NewExport(exporter *h5p.HTMLExporter, language string, m Metrics) (*Export, error) {
	if exporter == nil {
		return nil, xerrors.New("h5phttp: HTMLExporter is required")
	}
	if language == "" {
		language = "en"
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Export{exporter: exporter, language: language, metrics: m}, nil
}

func (e *Export) RegisterRoutes(r chi.Router) {
	r.Get(ExportPath, e.ServeHTTP)
}

func (e *Export) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "contentId")
	html, err := e.exporter.CreateSingleBundle(r.Context(), h5p.ContentID(id), userOf(r), h5p.BundleOptions{
		Language:          languageOf(r, e.language),
		ShowLicenseButton: true,
	})
	if err != nil {
		e.metrics.IncExport("html", "error")
		writeError(w, r, err)
		return
	}
	e.metrics.IncExport("html", "ok")
	// the id is used verbatim, unquoted
	w.Header().Set("Content-Disposition", "attachment; filename="+id+".html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(html))
}
