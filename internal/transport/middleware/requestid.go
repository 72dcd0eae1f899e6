package middleware

import (
	"net/http"

	"github.com/frahmantamala/capgate/pkg/logger"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestID accepts a caller-supplied id or mints one, and attaches it to the
// request logger and the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "request_id", reqID)
		w.Header().Set(RequestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
