package token

import (
	"context"
	"errors"
	"time"

	tokenDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/token"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTTL  = 3600 * time.Second
	DefaultRefreshTTL = 604800 * time.Second
)

// Revocation reasons recorded on the ledger.
const (
	ReasonRotated   = "rotated"
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
)

type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the signed payload: sub, username, roles, jti, iat, exp plus the
// token type so a refresh token can never pass as an access token.
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Type     Type     `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) TokenID() string {
	return c.ID
}

type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ErrAlreadyRevoked is returned by the store when a conditional revoke finds
// the record already revoked (or gone), i.e. another caller won the race.
var ErrAlreadyRevoked = errors.New("refresh token already revoked")

// RepositoryAPI is the refresh-token ledger. Rotate must revoke the old
// record and insert the new one atomically, succeeding for exactly one caller.
type RepositoryAPI interface {
	Create(ctx context.Context, rec *tokenDatamodel.RefreshToken) error
	GetByTokenID(ctx context.Context, tokenID string) (*tokenDatamodel.RefreshToken, error)
	Rotate(ctx context.Context, oldTokenID, reason string, at time.Time, next *tokenDatamodel.RefreshToken) error
	Revoke(ctx context.Context, tokenID, reason string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	CountActive(ctx context.Context, userID string, at time.Time) (int64, error)
	PurgeExpired(ctx context.Context, at time.Time) (int64, error)
}

type State int

const (
	StateActive State = iota
	StateRotated
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateRotated:
		return "rotated"
	case StateRevoked:
		return "revoked"
	case StateExpired:
		return "expired"
	default:
		return "active"
	}
}

// StateOf places a ledger record in the token lifecycle. Active is the only
// non-terminal state.
func StateOf(rec *tokenDatamodel.RefreshToken, now time.Time) State {
	switch {
	case rec.Revoked && rec.RevokedReason != nil && *rec.RevokedReason == ReasonRotated:
		return StateRotated
	case rec.Revoked:
		return StateRevoked
	case !rec.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateActive
	}
}
