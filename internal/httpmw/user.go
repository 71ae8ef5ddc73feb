package httpmw

import (
	"net/http"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/reqctx"
)

// DefaultUser is the identity attached to every request. There is no
// authentication; the stub holds every permission.
var DefaultUser = h5p.User{
	ID:                           "1",
	Name:                         "Firstname Surname",
	Email:                        "test@example.com",
	Type:                         "local",
	CanInstallRecommended:        true,
	CanUpdateAndInstallLibraries: true,
	CanCreateRestricted:          true,
}

// InjectUser attaches u to every request.
func InjectUser(u h5p.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, reqctx.WithUser(r, u))
		})
	}
}

// RequestContext attaches an empty request value so every later middleware
// shares it.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _ = reqctx.Attach(r)
		next.ServeHTTP(w, r)
	})
}
