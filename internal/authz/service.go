package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/capgate/internal/capability"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/permission"
	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/user"
)

type UserFinder interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// RoleSource must hit the store on every call; decisions are never cached.
type RoleSource interface {
	RolesForUser(ctx context.Context, userID string) ([]*role.Role, error)
}

type Service struct {
	users   UserFinder
	roles   RoleSource
	metrics *obs.Metrics
	logger  *slog.Logger
}

func NewService(users UserFinder, roles RoleSource, metrics *obs.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		roles:   roles,
		metrics: metrics,
		logger:  logger,
	}
}

// CheckPermission decides whether the principal may use capabilityName.
// attrs is recorded in the log line only; it never changes the outcome.
// Errors are reserved for store failures and malformed role data.
func (s *Service) CheckPermission(ctx context.Context, p Principal, capabilityName string, attrs map[string]string) (Result, error) {
	if err := capability.ValidateCapability(capabilityName); err != nil {
		res := Result{
			Reason:   fmt.Sprintf("denied: %q is not a valid capability", capabilityName),
			Decision: permission.Decision{Capability: capabilityName, SourceRoles: []string{}},
		}
		res.Decision.Reason = res.Reason
		s.record(ctx, p, res, attrs)
		return res, nil
	}

	roles, denial, err := s.load(ctx, p)
	if err != nil {
		return Result{}, err
	}
	if denial != "" {
		res := Result{
			Reason:   denial,
			Decision: permission.Decision{Capability: capabilityName, SourceRoles: []string{}, Reason: denial},
		}
		s.record(ctx, p, res, attrs)
		return res, nil
	}

	d := permission.Check(capabilityName, roles)
	res := Result{Allowed: d.Allowed(), Reason: d.Reason, Decision: d}
	s.record(ctx, p, res, attrs)
	return res, nil
}

// Require is CheckPermission for callers that want an error on denial.
func (s *Service) Require(ctx context.Context, p Principal, capabilityName string) error {
	res, err := s.CheckPermission(ctx, p, capabilityName, nil)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return newInsufficient(res)
	}
	return nil
}

// GetEffectivePermissions returns the principal's resolved pattern sets.
// Inactive and unknown principals get the empty set.
func (s *Service) GetEffectivePermissions(ctx context.Context, p Principal) (permission.EffectivePermissions, error) {
	roles, _, err := s.load(ctx, p)
	if err != nil {
		return permission.EffectivePermissions{}, err
	}
	return permission.Resolve(roles), nil
}

// FilterCapabilities keeps the candidates the principal may use, in order.
// It is advisory, for deciding what to show; enforcement goes through
// CheckPermission.
func (s *Service) FilterCapabilities(ctx context.Context, p Principal, candidates []string) ([]string, error) {
	eff, err := s.GetEffectivePermissions(ctx, p)
	if err != nil {
		return nil, err
	}
	return eff.Filter(candidates), nil
}

// load returns the principal's roles, or a denial reason when the principal
// cannot hold permissions at all.
func (s *Service) load(ctx context.Context, p Principal) ([]*role.Role, string, error) {
	if p.UserID == "" {
		return nil, "denied: no principal", nil
	}

	u, err := s.users.FindByID(ctx, p.UserID)
	if err != nil {
		return nil, "", fmt.Errorf("load principal: %w", err)
	}
	if u == nil {
		return nil, "denied: unknown principal", nil
	}
	if !u.IsActive() {
		return nil, "denied: principal is inactive", nil
	}

	roles, err := s.roles.RolesForUser(ctx, p.UserID)
	if err != nil {
		return nil, "", err
	}
	return roles, "", nil
}

func (s *Service) record(ctx context.Context, p Principal, res Result, attrs map[string]string) {
	s.metrics.Decision(res.Allowed)

	args := []any{
		"user_id", p.UserID,
		"capability", res.Decision.Capability,
		"reason", res.Reason,
		"source_roles", res.Decision.SourceRoles,
	}
	if len(attrs) > 0 {
		args = append(args, "attrs", attrs)
	}
	if res.Allowed {
		s.logger.DebugContext(ctx, "permission granted", args...)
		return
	}
	s.logger.WarnContext(ctx, "permission denied", args...)
}
