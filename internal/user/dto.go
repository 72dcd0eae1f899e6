package user

import (
	"strings"

	"github.com/frahmantamala/capgate/internal/core/common/validation"
	"github.com/frahmantamala/capgate/internal/password"
)

// MinPasswordLength is the password policy floor; the ceiling is bcrypt's.
const MinPasswordLength = 8

type CreateUserDTO struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (d *CreateUserDTO) Validate() error {
	d.Username = strings.TrimSpace(d.Username)
	d.Email = strings.TrimSpace(d.Email)
	d.DisplayName = strings.TrimSpace(d.DisplayName)

	v := validation.NewValidator()
	v.Field("username", d.Username).Required().MaxLength(64).Identifier()
	v.Field("email", d.Email).Required().MaxLength(254).Email()
	v.Field("password", d.Password).Required().MinLength(MinPasswordLength).MaxLength(password.MaxLength)
	v.Field("display_name", d.DisplayName).MaxLength(128)

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type SetActiveDTO struct {
	Active bool `json:"active"`
}
