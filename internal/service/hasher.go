package service

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashea contraseñas con argon2id y calcula fingerprints de tokens opacos.
type PasswordHasher struct {
	config argon2.Config
	// dummy se verifica cuando el usuario no existe, para igualar el costo del login.
	dummy string
}

func NewPasswordHasher() *PasswordHasher {
	return NewPasswordHasherWithConfig(argon2.DefaultConfig())
}

// NewPasswordHasherWithConfig permite parámetros más baratos en tests.
func NewPasswordHasherWithConfig(cfg argon2.Config) *PasswordHasher {
	h := &PasswordHasher{config: cfg}
	if dummy, err := h.HashPassword("berrymix-timing-equalizer"); err == nil {
		h.dummy = dummy
	}
	return h
}

func (h *PasswordHasher) HashPassword(plain string) (string, error) {
	encoded, err := h.config.HashEncoded([]byte(plain))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHashingFailure, err)
	}
	return string(encoded), nil
}

// VerifyPassword nunca devuelve error: un hash malformado es simplemente false.
// Acepta hashes bcrypt heredados además de argon2id.
func (h *PasswordHasher) VerifyPassword(plain, hash string) bool {
	if hash == "" {
		return false
	}
	if isBcryptHash(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	}
	ok, err := argon2.VerifyEncoded([]byte(plain), []byte(hash))
	return err == nil && ok
}

// BurnVerification consume el mismo tiempo que una verificación real.
func (h *PasswordHasher) BurnVerification(plain string) {
	if h.dummy != "" {
		_ = h.VerifyPassword(plain, h.dummy)
	}
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// Fingerprint indexa secretos opacos: SHA-256 en base64url sin padding.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
