package token

import "time"

// RefreshToken is one row of the refresh-token ledger, keyed by the JWT jti.
type RefreshToken struct {
	TokenID       string     `gorm:"column:token_id;primaryKey;type:varchar(26)"`
	UserID        string     `gorm:"column:user_id;type:varchar(26);index;not null"`
	IssuedAt      time.Time  `gorm:"column:issued_at;not null"`
	ExpiresAt     time.Time  `gorm:"column:expires_at;index;not null"`
	Revoked       bool       `gorm:"column:revoked;not null"`
	RevokedReason *string    `gorm:"column:revoked_reason"`
	RevokedAt     *time.Time `gorm:"column:revoked_at"`
	ReplacedBy    *string    `gorm:"column:replaced_by;type:varchar(26)"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}
