package user

import (
	"context"
	"time"

	userDatamodel "github.com/frahmantamala/capgate/internal/core/datamodel/user"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Active
}

// RepositoryAPI returns (nil, nil) from the getters when no row matches.
type RepositoryAPI interface {
	GetByID(ctx context.Context, id string) (*userDatamodel.User, error)
	GetByUsername(ctx context.Context, username string) (*userDatamodel.User, error)
	Create(ctx context.Context, u *userDatamodel.User) error
	SetActive(ctx context.Context, id string, active bool) (bool, error)
}

func ToDataModel(u *User) *userDatamodel.User {
	return &userDatamodel.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		DisplayName:  u.DisplayName,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
	}
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		DisplayName:  u.DisplayName,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
	}
}
