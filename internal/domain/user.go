package domain

import (
	"strings"
	"time"
)

const RoleUser = "user"

// User es el ancla de identidad: un registro por email, sin importar el proveedor.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Role         string     `json:"role"`
	IsVerified   bool       `json:"is_verified"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account can authenticate with a local password.
func (u User) HasPassword() bool {
	return strings.TrimSpace(u.PasswordHash) != ""
}

// UserFields lista los campos mutables de un usuario; nil significa "sin cambio".
type UserFields struct {
	Name         *string
	AvatarURL    *string
	PasswordHash *string
	IsVerified   *bool
	IsActive     *bool
	LastLoginAt  *time.Time
}

// Empty reports whether no field is set.
func (f UserFields) Empty() bool {
	return f.Name == nil && f.AvatarURL == nil && f.PasswordHash == nil &&
		f.IsVerified == nil && f.IsActive == nil && f.LastLoginAt == nil
}

// NormalizeEmail lowercases and trims an address; uniqueness is enforced on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
