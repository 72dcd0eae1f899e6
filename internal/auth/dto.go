package auth

import (
	"github.com/frahmantamala/capgate/internal/core/common/validation"
	"github.com/frahmantamala/capgate/internal/password"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate only checks presence and bcrypt's length ceiling; the policy floor
// applies when a password is set, not when one is presented.
func (d LoginDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("username", d.Username).Required().MaxLength(64)
	v.Field("password", d.Password).Required().MaxLength(password.MaxLength)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

func (d RefreshTokenDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("refresh_token", d.RefreshToken).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// LogoutDTO optionally names the refresh token to retire with the session.
type LogoutDTO struct {
	RefreshToken string `json:"refresh_token"`
}

type CheckPermissionDTO struct {
	Capability string            `json:"capability"`
	Context    map[string]string `json:"context,omitempty"`
}

func (d CheckPermissionDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("capability", d.Capability).Required().MaxLength(256)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type FilterCapabilitiesDTO struct {
	Capabilities []string `json:"capabilities"`
}

func (d FilterCapabilitiesDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("capabilities", d.Capabilities).Required()
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}
