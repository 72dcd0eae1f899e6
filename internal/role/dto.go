package role

import (
	"fmt"
	"strings"

	"github.com/frahmantamala/capgate/internal/core/common/validation"
)

type PermissionDTO struct {
	Capability string `json:"capability"`
	Action     string `json:"action"`
}

type CreateRoleDTO struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Priority    int             `json:"priority"`
	Permissions []PermissionDTO `json:"permissions"`
}

func (d *CreateRoleDTO) Validate() error {
	d.Name = strings.TrimSpace(d.Name)

	v := validation.NewValidator()
	v.Field("name", d.Name).Required().MaxLength(64)
	v.Field("description", d.Description).MaxLength(512)
	v.Field("priority", d.Priority).MinInt(0)
	addPermissionRules(v, d.Permissions)

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// UpdateRoleDTO is a partial update; nil fields are left alone. A non-nil
// Permissions replaces the whole rule list.
type UpdateRoleDTO struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *int             `json:"priority,omitempty"`
	Permissions *[]PermissionDTO `json:"permissions,omitempty"`
}

func (d *UpdateRoleDTO) Validate() error {
	v := validation.NewValidator()
	if d.Name != nil {
		trimmed := strings.TrimSpace(*d.Name)
		d.Name = &trimmed
		v.Field("name", trimmed).Required().MaxLength(64)
	}
	if d.Description != nil {
		v.Field("description", *d.Description).MaxLength(512)
	}
	if d.Priority != nil {
		v.Field("priority", *d.Priority).MinInt(0)
	}
	if d.Permissions != nil {
		addPermissionRules(v, *d.Permissions)
	}

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type AssignRoleDTO struct {
	UserID string `json:"user_id"`
}

func (d *AssignRoleDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("user_id", strings.TrimSpace(d.UserID)).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func addPermissionRules(v *validation.ValidationBuilder, perms []PermissionDTO) {
	for i, p := range perms {
		v.Field(fmt.Sprintf("permissions[%d].capability", i), p.Capability).Required().CapabilityPattern()
		v.Field(fmt.Sprintf("permissions[%d].action", i), p.Action).OneOf(string(ActionAllow), string(ActionDeny))
	}
}

func permissionsFromDTO(perms []PermissionDTO) []Permission {
	out := make([]Permission, len(perms))
	for i, p := range perms {
		out[i] = Permission{Capability: p.Capability, Action: Action(p.Action)}
	}
	return out
}
