package middleware

import (
	"context"
	"net/http"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/authz"
	"github.com/frahmantamala/capgate/internal/transport"
)

// CapabilityChecker is satisfied by *authz.Service.
type CapabilityChecker interface {
	Require(ctx context.Context, p authz.Principal, capability string) error
}

// RequireCapability must run after Authenticate. Roles are re-read for every
// request, so a revoked grant takes effect on the next call.
func RequireCapability(checker CapabilityChecker, capability string, base *transport.BaseHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := appErrors.IdentityFromContext(r.Context())
			if !ok {
				base.WriteAppError(w, r, appErrors.ErrInvalidToken.WithMessage("missing bearer token"))
				return
			}

			if err := checker.Require(r.Context(), authz.PrincipalFromIdentity(id), capability); err != nil {
				base.WriteAppError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
