package token

import (
	"errors"
	"fmt"
	"time"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/golang-jwt/jwt/v5"
)

// Signer signs and verifies HS256 tokens with a shared secret.
type Signer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewSigner rejects secrets shorter than the configured minimum.
func NewSigner(secret, issuer string, now func() time.Time) (*Signer, error) {
	if len(secret) < appErrors.MinSecretLength {
		return nil, appErrors.NewConfigurationError(
			fmt.Sprintf("jwt signing secret must be at least %d characters", appErrors.MinSecretLength))
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{key: []byte(secret), issuer: issuer, now: now}, nil
}

func (s *Signer) Sign(c *Claims) (string, error) {
	if s.issuer != "" {
		c.Issuer = s.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and expiry. A token is valid only while exp > now.
func (s *Signer) Parse(raw string) (*Claims, error) {
	claims, err := s.parse(raw,
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !claims.ExpiresAt.After(s.now()) {
		return nil, appErrors.ErrTokenExpired
	}
	return claims, nil
}

// ParseIgnoringExpiry verifies only the signature. Revocation uses it so an
// expired refresh token can still be identified.
func (s *Signer) ParseIgnoringExpiry(raw string) (*Claims, error) {
	return s.parse(raw, jwt.WithoutClaimsValidation())
}

func (s *Signer) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	if raw == "" {
		return nil, appErrors.ErrInvalidToken
	}

	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrTokenExpired
		}
		return nil, appErrors.ErrInvalidToken.WithCause(err)
	}

	if claims.Subject == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return nil, appErrors.ErrInvalidToken.WithCause(errors.New("missing required claims"))
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, appErrors.ErrInvalidToken.WithCause(fmt.Errorf("unknown token type %q", claims.Type))
	}
	return claims, nil
}
