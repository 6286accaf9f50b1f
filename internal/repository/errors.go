package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrDuplicateEmail        = fmt.Errorf("%w: users.email", ErrConflict)
	ErrDuplicateProviderLink = fmt.Errorf("%w: auth_providers.provider_account", ErrConflict)
)

const pgUniqueViolation = "23505"

// classifyPgError traduce violaciones de unicidad de Postgres a errores del repositorio.
func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return ErrDuplicateEmail
	case "auth_providers_provider_account_key":
		return ErrDuplicateProviderLink
	default:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
}
