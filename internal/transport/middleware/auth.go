package middleware

import (
	"net/http"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/token"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/frahmantamala/capgate/pkg/logger"
)

// AccessVerifier is satisfied by *token.Service.
type AccessVerifier interface {
	VerifyAccessToken(raw string) (*token.Claims, error)
}

// Authenticate verifies the bearer access token and stores the caller's
// identity in the request context. Access tokens are never looked up in the
// ledger, so this costs one HMAC.
func Authenticate(verifier AccessVerifier, base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := base.ExtractTokenFromHeader(r)
			if raw == "" {
				base.WriteAppError(w, r, appErrors.ErrInvalidToken.WithMessage("missing bearer token"))
				return
			}

			claims, err := verifier.VerifyAccessToken(raw)
			if err != nil {
				base.WriteAppError(w, r, err)
				return
			}

			ctx := appErrors.ContextWithIdentity(r.Context(), appErrors.Identity{
				UserID:   claims.UserID(),
				Username: claims.Username,
				TokenID:  claims.TokenID(),
			})
			ctx = logger.With(ctx, "user_id", claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
