// Package authz is the authorization façade: it re-reads a principal's roles
// on every call, asks the permission resolver for a decision and explains it.
package authz

import (
	"fmt"

	errors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/permission"
	"github.com/frahmantamala/capgate/internal/token"
)

// Principal identifies who is asking. Only UserID is used for decisions;
// Username is carried for logs.
type Principal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

func PrincipalFromClaims(c *token.Claims) Principal {
	return Principal{UserID: c.UserID(), Username: c.Username}
}

func PrincipalFromIdentity(id errors.Identity) Principal {
	return Principal{UserID: id.UserID, Username: id.Username}
}

// Result is the answer to CheckPermission.
type Result struct {
	Allowed  bool                `json:"allowed"`
	Reason   string              `json:"reason"`
	Decision permission.Decision `json:"decision"`
}

// InsufficientPermissionsError carries the deciding role and pattern for
// audit logs. Handlers should show only the capability to end users.
type InsufficientPermissionsError struct {
	Capability string
	Role       string
	Pattern    string
	Reason     string
}

func (e *InsufficientPermissionsError) Error() string {
	return fmt.Sprintf("insufficient permissions for %s: %s", e.Capability, e.Reason)
}

func (e *InsufficientPermissionsError) Unwrap() error {
	return errors.ErrInsufficientPermissions.WithDetails(map[string]string{"capability": e.Capability})
}

func newInsufficient(r Result) *InsufficientPermissionsError {
	e := &InsufficientPermissionsError{
		Capability: r.Decision.Capability,
		Reason:     r.Reason,
	}
	if r.Decision.Deciding != nil {
		e.Role = r.Decision.Deciding.Role
		e.Pattern = r.Decision.Deciding.Pattern
	}
	return e
}
