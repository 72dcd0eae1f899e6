package role

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/capability"
	"github.com/frahmantamala/capgate/internal/ids"
	"github.com/frahmantamala/capgate/internal/user"
)

// UserFinder returns (nil, nil) for unknown users.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

type Service struct {
	repo   RepositoryAPI
	users  UserFinder
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// SetUserFinder makes Assign reject unknown users before touching the store.
func (s *Service) SetUserFinder(u UserFinder) {
	s.users = u
}

func (s *Service) Create(ctx context.Context, dto CreateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByName(ctx, dto.Name)
	if err != nil {
		return nil, fmt.Errorf("lookup role name: %w", err)
	}
	if existing != nil {
		return nil, errors.ErrRoleNameTaken
	}

	now := s.now().UTC()
	r := &Role{
		ID:          ids.New(),
		Name:        dto.Name,
		Description: dto.Description,
		Priority:    dto.Priority,
		Permissions: dedupe(permissionsFromDTO(dto.Permissions)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, ToDataModel(r)); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "role created", "role_id", r.ID, "name", r.Name, "rules", len(r.Permissions))
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Role, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	if m == nil {
		return nil, errors.ErrRoleNotFound
	}
	return FromDataModel(m), nil
}

func (s *Service) List(ctx context.Context) ([]*Role, error) {
	models, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles := make([]*Role, len(models))
	for i, m := range models {
		roles[i] = FromDataModel(m)
	}
	return roles, nil
}

// Update applies a partial change. System roles keep their name; their
// description, priority and rules may still be edited.
func (s *Service) Update(ctx context.Context, id string, dto UpdateRoleDTO) (*Role, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if dto.Name != nil && *dto.Name != r.Name {
		if r.IsSystem {
			return nil, errors.ErrSystemRoleImmutable.WithMessage("system roles cannot be renamed")
		}
		other, err := s.repo.GetByName(ctx, *dto.Name)
		if err != nil {
			return nil, fmt.Errorf("lookup role name: %w", err)
		}
		if other != nil {
			return nil, errors.ErrRoleNameTaken
		}
		r.Name = *dto.Name
	}
	if dto.Description != nil {
		r.Description = *dto.Description
	}
	if dto.Priority != nil {
		r.Priority = *dto.Priority
	}
	r.UpdatedAt = s.now().UTC()

	replaceRules := dto.Permissions != nil
	if replaceRules {
		r.Permissions = dedupe(permissionsFromDTO(*dto.Permissions))
	}
	if err := s.repo.Update(ctx, ToDataModel(r), replaceRules); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "role updated", "role_id", r.ID, "name", r.Name)
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.IsSystem {
		return errors.ErrSystemRoleImmutable
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role deleted", "role_id", id, "name", r.Name)
	return nil
}

// Assign links a user to a role. Assigning twice is not an error.
func (s *Service) Assign(ctx context.Context, userID, roleID string) error {
	if _, err := s.Get(ctx, roleID); err != nil {
		return err
	}
	if s.users != nil {
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if u == nil {
			return errors.ErrUserNotFound
		}
	}
	if err := s.repo.Assign(ctx, userID, roleID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role assigned", "user_id", userID, "role_id", roleID)
	return nil
}

func (s *Service) Unassign(ctx context.Context, userID, roleID string) error {
	if err := s.repo.Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "role unassigned", "user_id", userID, "role_id", roleID)
	return nil
}

// RolesForUser loads the user's roles, highest priority first. A stored rule
// that no longer parses is a configuration error, never a silent skip.
func (s *Service) RolesForUser(ctx context.Context, userID string) ([]*Role, error) {
	models, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles for user: %w", err)
	}

	roles := make([]*Role, len(models))
	for i, m := range models {
		r := FromDataModel(m)
		if err := r.Validate(); err != nil {
			s.logger.ErrorContext(ctx, "stored role is malformed", "role_id", r.ID, "name", r.Name, "error", err)
			return nil, errors.NewConfigurationError(fmt.Sprintf("role %q has a malformed rule", r.Name)).WithCause(err)
		}
		roles[i] = r
	}
	return roles, nil
}

// EnsureDefaults creates any of DefaultRoles that do not exist yet and
// returns the resulting set by name. Existing roles are left untouched.
func (s *Service) EnsureDefaults(ctx context.Context) (map[string]*Role, error) {
	out := make(map[string]*Role)
	for _, def := range DefaultRoles() {
		existing, err := s.repo.GetByName(ctx, def.Name)
		if err != nil {
			return nil, fmt.Errorf("lookup role %s: %w", def.Name, err)
		}
		if existing != nil {
			out[def.Name] = FromDataModel(existing)
			continue
		}

		now := s.now().UTC()
		def.ID = ids.New()
		def.CreatedAt = now
		def.UpdatedAt = now
		if err := s.repo.Create(ctx, ToDataModel(def)); err != nil {
			return nil, fmt.Errorf("create role %s: %w", def.Name, err)
		}
		s.logger.InfoContext(ctx, "default role created", "name", def.Name)
		out[def.Name] = def
	}
	return out, nil
}

// dedupe drops repeated rules; "a:b" and "a.b" count as the same pattern.
func dedupe(perms []Permission) []Permission {
	seen := make(map[Permission]bool, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		key := Permission{Capability: capability.Normalize(p.Capability), Action: p.Action}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}
