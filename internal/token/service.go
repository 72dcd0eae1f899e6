package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	appErrors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/core/events"
	tokenDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/token"
	"github.com/frahmantamala/capgate/internal/ids"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/golang-jwt/jwt/v5"
)

// UserFinder returns (nil, nil) for unknown users.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
	FindByUsername(ctx context.Context, username string) (*user.User, error)
}

type RoleSource interface {
	RolesForUser(ctx context.Context, userID string) ([]*role.Role, error)
}

// Passwords is satisfied by *password.Pool.
type Passwords interface {
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, hash string) (bool, error)
}

type Service struct {
	repo      RepositoryAPI
	users     UserFinder
	roles     RoleSource
	passwords Passwords
	signer    *Signer

	events  events.Publisher
	metrics *obs.Metrics
	logger  *slog.Logger

	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

func WithEvents(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(repo RepositoryAPI, users UserFinder, roles RoleSource, passwords Passwords, signer *Signer, opts ...Option) (*Service, error) {
	if signer == nil {
		return nil, appErrors.NewConfigurationError("token signer is required")
	}
	if repo == nil || users == nil || roles == nil || passwords == nil {
		return nil, appErrors.NewConfigurationError("token service dependencies are incomplete")
	}
	s := &Service{
		repo:       repo,
		users:      users,
		roles:      roles,
		passwords:  passwords,
		signer:     signer,
		logger:     slog.Default(),
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate checks credentials and issues a token pair. Unknown users,
// wrong passwords and inactive accounts all get the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (pair Pair, err error) {
	defer func() { s.metrics.TokenOp("authenticate", err) }()

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return Pair{}, fmt.Errorf("lookup user: %w", err)
	}

	hash := s.placeholderHash(ctx)
	if u != nil {
		hash = u.PasswordHash
	}

	start := time.Now()
	ok, err := s.passwords.Verify(ctx, password, hash)
	if err != nil {
		return Pair{}, err
	}
	s.metrics.PasswordCheck(ok && u != nil, time.Since(start))

	if u == nil || !ok || !u.Active {
		s.logger.WarnContext(ctx, "authentication failed", "username", username)
		s.publish(ctx, events.NewLoginFailedEvent(username, s.now()))
		return Pair{}, appErrors.ErrInvalidCredentials
	}

	names, err := s.roleNames(ctx, u.ID)
	if err != nil {
		return Pair{}, err
	}

	now := s.clock()
	pair, rec, err := s.issue(u, names, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Pair{}, fmt.Errorf("store refresh token: %w", err)
	}

	s.logger.InfoContext(ctx, "user authenticated", "user_id", u.ID, "refresh_jti", rec.TokenID)
	return pair, nil
}

// VerifyAccessToken checks signature and expiry only. Access tokens are never
// looked up, so revocation reaches them only when they expire.
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	claims, err := s.signer.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, appErrors.ErrInvalidToken.WithCause(errors.New("not an access token"))
	}
	return claims, nil
}

// VerifyRefreshToken checks signature and expiry, then the ledger: a missing
// or revoked record fails with ErrTokenRevoked.
func (s *Service) VerifyRefreshToken(ctx context.Context, raw string) (*Claims, error) {
	claims, _, err := s.verifyRefresh(ctx, raw)
	return claims, err
}

// VerifyToken accepts either token type.
func (s *Service) VerifyToken(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.signer.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type == TypeRefresh {
		return s.VerifyRefreshToken(ctx, raw)
	}
	return claims, nil
}

func (s *Service) verifyRefresh(ctx context.Context, raw string) (*Claims, *tokenDatamodel.RefreshToken, error) {
	claims, err := s.signer.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, nil, appErrors.ErrInvalidToken.WithCause(errors.New("not a refresh token"))
	}

	rec, err := s.repo.GetByTokenID(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load refresh token: %w", err)
	}
	if rec == nil || rec.Revoked {
		return claims, rec, appErrors.ErrTokenRevoked
	}
	if rec.UserID != claims.Subject {
		return nil, nil, appErrors.ErrInvalidToken.WithCause(errors.New("subject does not match ledger"))
	}
	return claims, rec, nil
}

// Refresh rotates a refresh token: the old record is revoked with reason
// "rotated" and a new pair is issued in the same transaction. When two calls
// race on one token, exactly one wins and the other gets ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, raw string) (pair Pair, err error) {
	defer func() { s.metrics.TokenOp("refresh", err) }()

	claims, rec, err := s.verifyRefresh(ctx, raw)
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenRevoked) && claims != nil {
			s.reportReplay(ctx, claims, rec)
		}
		return Pair{}, err
	}

	u, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return Pair{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return Pair{}, appErrors.ErrInvalidToken.WithCause(errors.New("subject no longer exists"))
	}
	if !u.Active {
		return Pair{}, appErrors.ErrInvalidCredentials
	}

	names, err := s.roleNames(ctx, u.ID)
	if err != nil {
		return Pair{}, err
	}

	now := s.clock()
	pair, next, err := s.issue(u, names, now)
	if err != nil {
		return Pair{}, err
	}

	if err := s.repo.Rotate(ctx, claims.ID, ReasonRotated, now, next); err != nil {
		if !errors.Is(err, ErrAlreadyRevoked) {
			return Pair{}, fmt.Errorf("rotate refresh token: %w", err)
		}
		// Lost the race, or the record expired between verify and rotate.
		current, lookupErr := s.repo.GetByTokenID(ctx, claims.ID)
		if lookupErr == nil && current != nil && !current.Revoked {
			return Pair{}, appErrors.ErrTokenExpired
		}
		s.reportReplay(ctx, claims, current)
		return Pair{}, appErrors.ErrTokenRevoked
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		"user_id", u.ID, "old_jti", claims.ID, "new_jti", next.TokenID)
	return pair, nil
}

// RevokeToken revokes a refresh token. Access tokens are stateless, so for
// them this only logs; they stay valid until they expire.
func (s *Service) RevokeToken(ctx context.Context, raw, reason string) (err error) {
	defer func() { s.metrics.TokenOp("revoke", err) }()

	claims, err := s.signer.ParseIgnoringExpiry(raw)
	if err != nil {
		return err
	}

	if claims.Type == TypeAccess {
		s.logger.WarnContext(ctx, "access token revocation requested; it remains valid until expiry",
			"user_id", claims.Subject, "jti", claims.ID, "expires_at", claims.ExpiresAt.Time)
		return nil
	}

	revoked, err := s.repo.Revoke(ctx, claims.ID, reason, s.clock())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if revoked {
		s.logger.InfoContext(ctx, "refresh token revoked", "user_id", claims.Subject, "jti", claims.ID, "reason", reason)
		s.publish(ctx, events.NewTokenRevokedEvent(claims.ID, claims.Subject, reason, s.now()))
	}
	return nil
}

// RevokeAllUserTokens revokes every unrevoked refresh token of the user in one batch.
func (s *Service) RevokeAllUserTokens(ctx context.Context, userID, reason string) (n int64, err error) {
	defer func() { s.metrics.TokenOp("revoke_all", err) }()

	n, err = s.repo.RevokeAllForUser(ctx, userID, reason, s.clock())
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	s.logger.InfoContext(ctx, "user refresh tokens revoked", "user_id", userID, "count", n, "reason", reason)
	s.publish(ctx, events.NewSessionsRevokedEvent(userID, reason, n, s.now()))
	return n, nil
}

// GetActiveSessionCount counts unrevoked, unexpired refresh tokens.
func (s *Service) GetActiveSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := s.repo.CountActive(ctx, userID, s.clock())
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}

// PurgeExpired deletes ledger rows past their expiry, revoked or not.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.clock())
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	s.metrics.Purged(n)
	return n, nil
}

// SessionState reports where a refresh token sits in its lifecycle.
func (s *Service) SessionState(ctx context.Context, tokenID string) (State, error) {
	rec, err := s.repo.GetByTokenID(ctx, tokenID)
	if err != nil {
		return StateRevoked, fmt.Errorf("load refresh token: %w", err)
	}
	if rec == nil {
		return StateExpired, nil
	}
	return StateOf(rec, s.clock()), nil
}

func (s *Service) issue(u *user.User, roleNames []string, now time.Time) (Pair, *tokenDatamodel.RefreshToken, error) {
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.signer.Sign(s.claims(u, roleNames, TypeAccess, ids.NewAt(now), now, accessExp))
	if err != nil {
		return Pair{}, nil, err
	}

	refreshID := ids.NewAt(now)
	refresh, err := s.signer.Sign(s.claims(u, roleNames, TypeRefresh, refreshID, now, refreshExp))
	if err != nil {
		return Pair{}, nil, err
	}

	rec := &tokenDatamodel.RefreshToken{
		TokenID:   refreshID,
		UserID:    u.ID,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, rec, nil
}

func (s *Service) claims(u *user.User, roleNames []string, typ Type, jti string, iat, exp time.Time) *Claims {
	return &Claims{
		Username: u.Username,
		Roles:    roleNames,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func (s *Service) roleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.roles.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return role.Names(roles), nil
}

// clock truncates to whole seconds in UTC, the resolution JWT timestamps carry.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// placeholderHash lets unknown usernames pay the same bcrypt cost as real ones.
func (s *Service) placeholderHash(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash(ctx, "capgate-placeholder-password")
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to prepare placeholder hash", "error", err)
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// reportReplay flags a refresh token presented after rotation or revocation.
// The rest of the token family is left alone.
func (s *Service) reportReplay(ctx context.Context, claims *Claims, rec *tokenDatamodel.RefreshToken) {
	reason := "unknown"
	if rec != nil && rec.RevokedReason != nil {
		reason = *rec.RevokedReason
	}
	s.logger.WarnContext(ctx, "refresh token replay detected",
		"user_id", claims.Subject, "jti", claims.ID, "revoked_reason", reason)
	s.metrics.Replay()
	s.publish(ctx, events.NewRefreshReplayEvent(claims.ID, claims.Subject, s.now()))
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event", "event_type", e.EventType(), "error", err)
	}
}
