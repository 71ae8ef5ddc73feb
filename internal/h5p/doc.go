// Package h5p is the content engine behind the HTTP layer: storage ports,
// library lookup, dependency ordering, the editor and player facades, the
// content-type cache and package import/export.
//
// The HTTP composition builds an Editor and a Player once at startup and
// forwards them to the routers. It never reaches into their storage.
package h5p
