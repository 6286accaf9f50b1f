package domain

import (
	"strings"
	"time"
)

const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// AuthProvider vincula una fuente de credenciales externa con un usuario.
// El par (Provider, ProviderAccountID) es único.
type AuthProvider struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// LocalAccountID derives the synthetic account id of the password link.
func LocalAccountID(userID string) string {
	return "local_" + userID
}

// OAuthIdentity es la tupla verificada que entregan los proveedores OAuth.
type OAuthIdentity struct {
	Provider          string
	ProviderAccountID string
	Email             string
	FirstName         string
	LastName          string
	PictureURL        string
}

// DisplayName joins first and last name, falling back to the email local part.
func (o OAuthIdentity) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(o.FirstName) + " " + strings.TrimSpace(o.LastName))
	if name != "" {
		return name
	}
	if at := strings.Index(o.Email, "@"); at > 0 {
		return o.Email[:at]
	}
	return o.Email
}
