// Package auth exposes the token and authorization services over HTTP.
package auth

import (
	"context"

	"github.com/frahmantamala/capgate/internal/authz"
	"github.com/frahmantamala/capgate/internal/permission"
	"github.com/frahmantamala/capgate/internal/token"
)

// TokenServiceAPI is the subset of *token.Service the handlers use.
type TokenServiceAPI interface {
	Authenticate(ctx context.Context, username, password string) (token.Pair, error)
	Refresh(ctx context.Context, raw string) (token.Pair, error)
	RevokeToken(ctx context.Context, raw, reason string) error
	RevokeAllUserTokens(ctx context.Context, userID, reason string) (int64, error)
	GetActiveSessionCount(ctx context.Context, userID string) (int, error)
	VerifyAccessToken(raw string) (*token.Claims, error)
}

// AuthorizerAPI is the subset of *authz.Service the handlers use.
type AuthorizerAPI interface {
	CheckPermission(ctx context.Context, p authz.Principal, capability string, attrs map[string]string) (authz.Result, error)
	Require(ctx context.Context, p authz.Principal, capability string) error
	GetEffectivePermissions(ctx context.Context, p authz.Principal) (permission.EffectivePermissions, error)
	FilterCapabilities(ctx context.Context, p authz.Principal, candidates []string) ([]string, error)
}

type SessionsResponse struct {
	UserID         string `json:"user_id"`
	ActiveSessions int    `json:"active_sessions"`
}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type CheckResponse struct {
	Capability string `json:"capability"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason"`
}

type FilterResponse struct {
	Capabilities []string `json:"capabilities"`
}
