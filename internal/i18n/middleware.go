package i18n

import "net/http"

// LangCookie remembers a language picked with the ?lang= query parameter.
const LangCookie = "lang"

// Middleware injects a localizer into every request context. A supported
// ?lang= value is stored in a cookie; the cookie, then the Accept-Language
// header, win over lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" && Supported(q) {
				http.SetCookie(w, &http.Cookie{
					Name:     LangCookie,
					Value:    q,
					Path:     "/",
					MaxAge:   365 * 24 * 60 * 60,
					SameSite: http.SameSiteLaxMode,
				})
				prefs = append(prefs, q)
			} else if c, err := r.Cookie(LangCookie); err == nil && Supported(c.Value) {
				prefs = append(prefs, c.Value)
			}
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				prefs = append(prefs, accept)
			}

			loc := fallback
			if len(prefs) > 0 {
				loc = NewLocalizer(lang, prefs...)
			}
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
