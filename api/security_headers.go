package api

import (
	"net/http"

	"github.com/jmcleod/ironsession/csrf"
)

// contentSecurityPolicy allows the Redoc bundle from its CDN and restricts
// form posts to this origin.
const contentSecurityPolicy = "default-src 'self'; script-src 'self' https://cdn.jsdelivr.net; " +
	"style-src 'self' 'unsafe-inline'; img-src 'self' data:; worker-src blob:; " +
	"form-action 'self'; frame-ancestors 'none'"

// SecurityHeaders sets standard security response headers. Responses may
// carry CSRF tokens, so they are never cached. Place it early in the chain.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Security-Policy", contentSecurityPolicy)

		if csrf.RequestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
