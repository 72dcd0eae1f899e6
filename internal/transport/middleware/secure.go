package middleware

import (
	"net/http"

	"github.com/unrolled/secure"
)

// SecureHeaders sets the usual hardening headers. HSTS and host checks only
// apply outside development.
func SecureHeaders(production bool) func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		STSSeconds:         31536000,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !production,
	}).Handler
}
