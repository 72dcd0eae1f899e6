package user

import "time"

// User maps the users table. Columns are read through sqlx, hence the db tags.
type User struct {
	ID           string    `db:"id" gorm:"primaryKey;type:varchar(26)"`
	Username     string    `db:"username" gorm:"column:username;uniqueIndex;not null"`
	Email        string    `db:"email" gorm:"column:email;uniqueIndex;not null"`
	PasswordHash string    `db:"password_hash" gorm:"column:password_hash;not null"`
	DisplayName  string    `db:"display_name" gorm:"column:display_name"`
	Active       bool      `db:"active" gorm:"column:active;not null"`
	CreatedAt    time.Time `db:"created_at" gorm:"column:created_at;not null"`
}

func (User) TableName() string {
	return "users"
}
