package domain

import "time"

type RefreshTokenStatus string

const (
	RefreshTokenActive  RefreshTokenStatus = "active"
	RefreshTokenRotated RefreshTokenStatus = "rotated"
	RefreshTokenRevoked RefreshTokenStatus = "revoked"
)

// RefreshToken guarda el fingerprint de un secreto de sesión, nunca el secreto.
type RefreshToken struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	TokenHash   string             `json:"-"`
	Status      RefreshTokenStatus `json:"status"`
	ExpiresAt   time.Time          `json:"expires_at"`
	RevokedAt   *time.Time         `json:"revoked_at,omitempty"`
	RotatedFrom *string            `json:"rotated_from,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Expired is evaluated lazily at read time.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the row may satisfy a rotation.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.Status == RefreshTokenActive && !t.Expired(now)
}
