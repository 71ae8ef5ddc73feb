package h5phttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// ContentTypeCacheAdmin reports and triggers content type cache updates,
// registered under /content-type-cache.
type ContentTypeCacheAdmin struct {
	cache *h5p.ContentTypeCache
}

func NewContentTypeCacheAdmin(cache *h5p.ContentTypeCache) (*ContentTypeCacheAdmin, error) {
	if cache == nil {
		return nil, xerrors.New("h5phttp: ContentTypeCache is required")
	}
	return &ContentTypeCacheAdmin{cache: cache}, nil
}

func (c *ContentTypeCacheAdmin) RegisterRoutes(r chi.Router) {
	r.Get("/content-type-cache/update", c.handleStatus)
	r.Post("/content-type-cache/update", c.handleUpdate)
}

type cacheStatus struct {
	LastUpdate *string `json:"lastUpdate"`
}

func (c *ContentTypeCacheAdmin) status() cacheStatus {
	last, ok := c.cache.LastUpdate()
	if !ok {
		return cacheStatus{}
	}
	s := last.UTC().Format(time.RFC3339)
	return cacheStatus{LastUpdate: &s}
}

func (c *ContentTypeCacheAdmin) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, c.status())
}

func (c *ContentTypeCacheAdmin) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := c.cache.Update(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, c.status())
}
