package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/frahmantamala/capgate/internal"
	roleDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/role"
	"github.com/frahmantamala/capgate/internal/role"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository struct {
	db *gorm.DB
}

// NewRoleRepository expects a *gorm.DB opened with TranslateError so unique
// violations surface as gorm.ErrDuplicatedKey on every dialect.
func NewRoleRepository(db *gorm.DB) role.RepositoryAPI {
	return &RoleRepository{db: db}
}

func orderedPermissions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *RoleRepository) Create(ctx context.Context, m *roleDatamodel.Role) error {
	err := r.db.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return appErrors.ErrRoleNameTaken
	}
	return err
}

func (r *RoleRepository) GetByID(ctx context.Context, id string) (*roleDatamodel.Role, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (*roleDatamodel.Role, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *RoleRepository) first(ctx context.Context, query string, arg interface{}) (*roleDatamodel.Role, error) {
	var m roleDatamodel.Role
	err := r.db.WithContext(ctx).
		Preload("Permissions", orderedPermissions).
		Where(query, arg).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]*roleDatamodel.Role, error) {
	var roles []*roleDatamodel.Role
	err := r.db.WithContext(ctx).
		Preload("Permissions", orderedPermissions).
		Order("priority DESC, name ASC").
		Find(&roles).Error
	return roles, err
}

// Update writes the scalar columns and, when replaceRules is set, swaps the
// rule list in the same transaction.
func (r *RoleRepository) Update(ctx context.Context, m *roleDatamodel.Role, replaceRules bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&roleDatamodel.Role{}).
			Where("id = ?", m.ID).
			Updates(map[string]interface{}{
				"name":        m.Name,
				"description": m.Description,
				"priority":    m.Priority,
				"updated_at":  m.UpdatedAt,
			})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return appErrors.ErrRoleNameTaken
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErrors.ErrRoleNotFound
		}
		if !replaceRules {
			return nil
		}
		return replacePermissions(tx, m.ID, m.Permissions)
	})
}

func replacePermissions(tx *gorm.DB, roleID string, perms []roleDatamodel.RolePermission) error {
	if err := tx.Where("role_id = ?", roleID).Delete(&roleDatamodel.RolePermission{}).Error; err != nil {
		return fmt.Errorf("clear permissions: %w", err)
	}
	if len(perms) == 0 {
		return nil
	}
	for i := range perms {
		perms[i].ID = 0
		perms[i].RoleID = roleID
	}
	if err := tx.Create(&perms).Error; err != nil {
		return fmt.Errorf("insert permissions: %w", err)
	}
	return nil
}

// Delete removes the role with its rules and assignments.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", id).Delete(&roleDatamodel.UserRole{}).Error; err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&roleDatamodel.RolePermission{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&roleDatamodel.Role{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErrors.ErrRoleNotFound
		}
		return nil
	})
}

// Assign links a user to a role. A missing user or role on the database side
// surfaces as a foreign key violation and is reported as not found.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleID string) error {
	link := &roleDatamodel.UserRole{UserID: userID, RoleID: roleID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(link).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return appErrors.ErrUserNotFound.WithCause(err)
	}
	return err
}

func (r *RoleRepository) Unassign(ctx context.Context, userID, roleID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&roleDatamodel.UserRole{}).Error
}

// ListForUser returns the user's roles, highest priority first.
func (r *RoleRepository) ListForUser(ctx context.Context, userID string) ([]*roleDatamodel.Role, error) {
	var roles []*roleDatamodel.Role
	err := r.db.WithContext(ctx).
		Preload("Permissions", orderedPermissions).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.priority DESC, roles.name ASC").
		Find(&roles).Error
	return roles, err
}
