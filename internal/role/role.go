package role

import (
	"context"
	"fmt"
	"time"

	errors "github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/capability"
	roleDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/role"
)

type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

func (a Action) Valid() bool {
	return a == ActionAllow || a == ActionDeny
}

type Permission struct {
	Capability string `json:"capability"`
	Action     Action `json:"action"`
}

// Role is an immutable-once-loaded value object; the resolver never mutates it.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Priority    int          `json:"priority"`
	IsSystem    bool         `json:"is_system"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks the role against the capability grammar. Roles read back
// from the store are validated too; a failure there is a configuration error.
func (r *Role) Validate() error {
	if r.Name == "" {
		return errors.NewValidationFieldError("name", "name is required", errors.ErrCodeValidationFailed)
	}
	return ValidatePermissions(r.Permissions)
}

func ValidatePermissions(perms []Permission) error {
	for i, p := range perms {
		if err := capability.ValidatePattern(p.Capability); err != nil {
			return err
		}
		if !p.Action.Valid() {
			return errors.NewValidationFieldError(
				fmt.Sprintf("permissions[%d].action", i),
				fmt.Sprintf("action %q must be allow or deny", p.Action),
				errors.ErrCodeInvalidAction,
			)
		}
	}
	return nil
}

// RepositoryAPI is the RoleStore contract.
type RepositoryAPI interface {
	Create(ctx context.Context, r *roleDatamodel.Role) error
	GetByID(ctx context.Context, id string) (*roleDatamodel.Role, error)
	GetByName(ctx context.Context, name string) (*roleDatamodel.Role, error)
	List(ctx context.Context) ([]*roleDatamodel.Role, error)
	// Update is atomic: with replaceRules the rule list is swapped in the
	// same transaction as the scalar columns.
	Update(ctx context.Context, r *roleDatamodel.Role, replaceRules bool) error
	Delete(ctx context.Context, id string) error
	Assign(ctx context.Context, userID, roleID string) error
	Unassign(ctx context.Context, userID, roleID string) error
	ListForUser(ctx context.Context, userID string) ([]*roleDatamodel.Role, error)
}

func ToDataModel(r *Role) *roleDatamodel.Role {
	return &roleDatamodel.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		IsSystem:    r.IsSystem,
		Permissions: PermissionsToDataModel(r.ID, r.Permissions),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func PermissionsToDataModel(roleID string, perms []Permission) []roleDatamodel.RolePermission {
	out := make([]roleDatamodel.RolePermission, len(perms))
	for i, p := range perms {
		out[i] = roleDatamodel.RolePermission{
			RoleID:     roleID,
			Capability: p.Capability,
			Action:     string(p.Action),
			Position:   i,
		}
	}
	return out
}

func FromDataModel(m *roleDatamodel.Role) *Role {
	perms := make([]Permission, len(m.Permissions))
	for i, p := range m.Permissions {
		perms[i] = Permission{Capability: p.Capability, Action: Action(p.Action)}
	}
	return &Role{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Priority:    m.Priority,
		IsSystem:    m.IsSystem,
		Permissions: perms,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// Names returns role names in the given order.
func Names(roles []*Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names
}

const (
	Administrator = "Administrator"
	Operator      = "Operator"
	Viewer        = "Viewer"
)

// DefaultRoles are seeded on first run. Viewer's explicit denies survive the
// addition of Administrator because exact rules outrank the global wildcard.
func DefaultRoles() []*Role {
	return []*Role{
		{
			Name:        Administrator,
			Description: "Full access to every capability",
			Priority:    100,
			IsSystem:    true,
			Permissions: []Permission{{Capability: "*", Action: ActionAllow}},
		},
		{
			Name:        Operator,
			Description: "Read inventory and facts, run commands and tasks",
			Priority:    50,
			IsSystem:    true,
			Permissions: []Permission{
				{Capability: "inventory.*", Action: ActionAllow},
				{Capability: "facts.*", Action: ActionAllow},
				{Capability: "command.execute", Action: ActionAllow},
				{Capability: "task.execute", Action: ActionAllow},
			},
		},
		{
			Name:        Viewer,
			Description: "Read-only access",
			Priority:    10,
			IsSystem:    true,
			Permissions: []Permission{
				{Capability: "inventory.read", Action: ActionAllow},
				{Capability: "facts.read", Action: ActionAllow},
				{Capability: "command.execute", Action: ActionDeny},
				{Capability: "task.execute", Action: ActionDeny},
			},
		},
	}
}
