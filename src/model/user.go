package model

import "time"

// User is the minimal account record this engine needs. Full account
// management lives outside this service; handlers only read the ID injected
// by the auth middleware.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"size:100;uniqueIndex" json:"username"`
	Email    string `gorm:"size:255" json:"email,omitempty"`
	APIToken string `gorm:"size:100;uniqueIndex" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
