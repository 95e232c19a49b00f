package models

import (
	"time"
)

const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleSupport = "support"
)

// User is a back-office operator allowed to inspect and refund transactions.
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	PasswordHash string     `gorm:"size:255;not null" json:"-"`
	Role         string     `gorm:"size:20;default:'support'" json:"role"` // admin, finance, support
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}
