// Package h5phttp exposes the H5P editor, player and exporter over HTTP.
//
// Each router type registers its routes on a chi.Router the server has
// already scoped to the base URL, so the AJAX, action and administration
// routes share one route tree. Request state (user, language, decoded
// bodies, uploads) is read from reqctx; the middleware in httpmw, upload
// and i18n must run first.
package h5phttp
