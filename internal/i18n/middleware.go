package i18n

import (
	"net/http"

	"github.com/keithlinneman/h5p-web/internal/reqctx"
)

// CookieName is the cookie the client uses to persist its language choice.
const CookieName = "i18next"

// Middleware detects the request language from the lng query parameter, the
// language cookie and Accept-Language, in that order, and binds a translate
// function for it on the request.
func (t *Translator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cookie string
		if c, err := r.Cookie(CookieName); err == nil {
			cookie = c.Value
		}
		lng := t.Match(r.URL.Query().Get("lng"), cookie, r.Header.Get("Accept-Language"))

		r, v := reqctx.Attach(r)
		v.Language = lng
		v.Languages = t.languages(lng)
		v.T = func(key string) string { return t.T(key, lng) }
		next.ServeHTTP(w, r)
	})
}

func (t *Translator) languages(lng string) []string {
	if lng == t.fallback.String() {
		return []string{lng}
	}
	return []string{lng, t.fallback.String()}
}
