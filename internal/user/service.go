package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/ids"
)

// PasswordHasher is satisfied by *password.Pool.
type PasswordHasher interface {
	Hash(ctx context.Context, plaintext string) (string, error)
}

// SessionRevoker is satisfied by *token.Service.
type SessionRevoker interface {
	RevokeAllUserTokens(ctx context.Context, userID, reason string) (int64, error)
}

const ReasonDeactivated = "user_deactivated"

type Service struct {
	repo     RepositoryAPI
	hasher   PasswordHasher
	sessions SessionRevoker
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo RepositoryAPI, hasher PasswordHasher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
}

// SetSessionRevoker wires token revocation after construction; the token
// service itself depends on this one for user lookups.
func (s *Service) SetSessionRevoker(r SessionRevoker) {
	s.sessions = r
}

func (s *Service) Create(ctx context.Context, dto CreateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByUsername(ctx, dto.Username)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if existing != nil {
		return nil, errors.ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(ctx, dto.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           ids.New(),
		Username:     dto.Username,
		Email:        dto.Email,
		PasswordHash: hash,
		DisplayName:  dto.DisplayName,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, ToDataModel(u)); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// FindByID returns (nil, nil) for unknown ids.
func (s *Service) FindByID(ctx context.Context, id string) (*User, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	return FromDataModel(m), nil
}

// FindByUsername returns (nil, nil) for unknown usernames. Usernames are case sensitive.
func (s *Service) FindByUsername(ctx context.Context, username string) (*User, error) {
	m, err := s.repo.GetByUsername(ctx, username)
	if err != nil || m == nil {
		return nil, err
	}
	return FromDataModel(m), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.ErrUserNotFound
	}
	return u, nil
}

// SetActive flips the soft-disable flag. Deactivation also revokes every
// refresh token so the user is locked out once current access tokens expire.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	found, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if !found {
		return errors.ErrUserNotFound
	}

	s.logger.InfoContext(ctx, "user active flag changed", "user_id", id, "active", active)

	if active || s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.RevokeAllUserTokens(ctx, id, ReasonDeactivated); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
