package middleware

import (
	"net/http"
	"time"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/go-chi/httprate"
)

// AuthRateLimit caps login and refresh attempts per client IP. A limit of
// zero or less disables it.
func AuthRateLimit(limit int, window time.Duration, base *transport.BaseHandler) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			base.WriteAppError(w, r, appErrors.ErrTooManyRequests)
		}),
	)
}
