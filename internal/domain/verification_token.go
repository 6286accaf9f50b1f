package domain

import "time"

type TokenPurpose string

const (
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposePasswordReset     TokenPurpose = "password_reset"
)

// VerificationToken es un secreto de un solo uso (verificación de email o reset).
type VerificationToken struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (t VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
