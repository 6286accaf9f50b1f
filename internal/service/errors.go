package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrEmailAlreadyInUse     = errors.New("email already in use")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = fmt.Errorf("%w: email not verified", ErrInvalidCredentials)
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrSessionReuseDetected  = fmt.Errorf("%w: session reuse detected", ErrInvalidOrExpiredToken)
	ErrUserNotFound          = errors.New("user not found")
	ErrHashingFailure        = fmt.Errorf("%w: hashing failure", ErrInternal)
	ErrInternal              = errors.New("internal failure")
)

// ValidationError describe los campos rechazados; errors.Is(err, ErrValidation) es verdadero.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, reason := range e.Fields {
		parts = append(parts, field+": "+reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// internalError envuelve un fallo de infraestructura para que no cruce el borde del servicio sin clasificar.
func internalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
