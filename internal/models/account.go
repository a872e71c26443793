package models

import (
	"strings"
	"time"
)

// Account is the directory entry for a chat user. Accounts are managed elsewhere and
// only read by the chat subsystem.
type Account struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	FirstName string    `gorm:"size:128" json:"first_name"`
	LastName  string    `gorm:"size:128" json:"last_name"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	Avatar    string    `gorm:"size:512" json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName joins first and last name.
func (a Account) DisplayName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}
