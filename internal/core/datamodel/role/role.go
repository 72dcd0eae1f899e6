package role

import "time"

type Role struct {
	ID          string           `gorm:"primaryKey;type:varchar(26)"`
	Name        string           `gorm:"column:name;uniqueIndex;not null"`
	Description string           `gorm:"column:description"`
	Priority    int              `gorm:"column:priority;not null"`
	IsSystem    bool             `gorm:"column:is_system;not null"`
	Permissions []RolePermission `gorm:"foreignKey:RoleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

// RolePermission is one (capability, action) rule. Position keeps the order
// the administrator defined.
type RolePermission struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	RoleID     string `gorm:"column:role_id;type:varchar(26);index;not null"`
	Capability string `gorm:"column:capability;not null"`
	Action     string `gorm:"column:action;not null"`
	Position   int    `gorm:"column:position;not null"`
}

func (RolePermission) TableName() string {
	return "role_permissions"
}

type UserRole struct {
	UserID    string    `gorm:"column:user_id;primaryKey;type:varchar(26)"`
	RoleID    string    `gorm:"column:role_id;primaryKey;type:varchar(26);index"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
