// Package sitehttp answers requests no route matched. Paths under the H5P
// base URL get the JSON error envelope the client expects, everything else
// a plain text error.
package sitehttp

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type Routes struct {
	BaseURL string
}

func New(baseURL string) *Routes {
	return &Routes{BaseURL: strings.TrimRight(baseURL, "/")}
}

// RegisterRoutes should be passed LAST so it becomes the final fallback.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	// NotFound rather than a wildcard route so health and control routes
	// registered by other registrars keep working.
	r.NotFound(rt.fallback(http.StatusNotFound, "not_found"))
	r.MethodNotAllowed(rt.fallback(http.StatusMethodNotAllowed, "method_not_allowed"))
}

func (rt *Routes) isAPI(p string) bool {
	if rt.BaseURL == "" {
		return true
	}
	return p == rt.BaseURL || strings.HasPrefix(p, rt.BaseURL+"/")
}

func (rt *Routes) fallback(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if !rt.isAPI(r.URL.Path) {
			http.Error(w, http.StatusText(status), status)
			return
		}
		render.Status(r, status)
		render.JSON(w, r, map[string]any{
			"success":   false,
			"message":   http.StatusText(status),
			"errorCode": code,
		})
	}
}
