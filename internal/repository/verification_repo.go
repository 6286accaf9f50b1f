package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"berrymix-auth/internal/domain"
)

// VerificationTokenRepository persiste tokens de un solo uso por propósito.
type VerificationTokenRepository interface {
	Insert(ctx context.Context, token domain.VerificationToken) error
	GetByHash(ctx context.Context, purpose domain.TokenPurpose, tokenHash string) (domain.VerificationToken, error)
	Delete(ctx context.Context, purpose domain.TokenPurpose, id string) error
	// ReplacePasswordReset deja un único reset vigente por usuario.
	ReplacePasswordReset(ctx context.Context, token domain.VerificationToken) error
	// ConsumeEmailVerification marca al usuario verificado y borra el token atómicamente.
	ConsumeEmailVerification(ctx context.Context, token domain.VerificationToken) error
	// ConsumePasswordReset borra el token, guarda el nuevo hash y revoca las sesiones activas.
	ConsumePasswordReset(ctx context.Context, token domain.VerificationToken, passwordHash string, now time.Time) error
	DeleteExpired(ctx context.Context, purpose domain.TokenPurpose, before time.Time) (int64, error)
}

type PgVerificationTokenRepository struct {
	pool DB
}

func NewPgVerificationTokenRepository(pool DB) *PgVerificationTokenRepository {
	return &PgVerificationTokenRepository{pool: pool}
}

func verificationTable(purpose domain.TokenPurpose) (string, error) {
	switch purpose {
	case domain.PurposeEmailVerification:
		return "email_verifications", nil
	case domain.PurposePasswordReset:
		return "password_resets", nil
	default:
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}
}

func (r *PgVerificationTokenRepository) Insert(ctx context.Context, token domain.VerificationToken) error {
	return insertVerificationToken(ctx, r.pool, token)
}

func insertVerificationToken(ctx context.Context, q DBTX, token domain.VerificationToken) error {
	table, err := verificationTable(token.Purpose)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + table + ` (id, user_id, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err = q.Exec(ctx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt)
	return classifyPgError(err)
}

func (r *PgVerificationTokenRepository) GetByHash(ctx context.Context, purpose domain.TokenPurpose, tokenHash string) (domain.VerificationToken, error) {
	table, err := verificationTable(purpose)
	if err != nil {
		return domain.VerificationToken{}, err
	}
	query := `SELECT id, user_id, token_hash, expires_at, created_at FROM ` + table + ` WHERE token_hash = $1`
	token := domain.VerificationToken{Purpose: purpose}
	err = r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VerificationToken{}, ErrNotFound
	}
	return token, err
}

func (r *PgVerificationTokenRepository) Delete(ctx context.Context, purpose domain.TokenPurpose, id string) error {
	_, err := deleteVerificationToken(ctx, r.pool, purpose, id)
	return err
}

func deleteVerificationToken(ctx context.Context, q DBTX, purpose domain.TokenPurpose, id string) (int64, error) {
	table, err := verificationTable(purpose)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgVerificationTokenRepository) ReplacePasswordReset(ctx context.Context, token domain.VerificationToken) error {
	const query = `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return classifyPgError(err)
}

func (r *PgVerificationTokenRepository) ConsumeEmailVerification(ctx context.Context, token domain.VerificationToken) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		deleted, err := deleteVerificationToken(ctx, tx, domain.PurposeEmailVerification, token.ID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrNotFound
		}
		tag, err := tx.Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = now() WHERE id = $1`, token.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *PgVerificationTokenRepository) ConsumePasswordReset(ctx context.Context, token domain.VerificationToken, passwordHash string, now time.Time) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		deleted, err := deleteVerificationToken(ctx, tx, domain.PurposePasswordReset, token.ID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return ErrNotFound
		}
		tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, token.UserID, passwordHash, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = revokeRefreshTokens(ctx, tx, token.UserID, now)
		return err
	})
}

func (r *PgVerificationTokenRepository) DeleteExpired(ctx context.Context, purpose domain.TokenPurpose, before time.Time) (int64, error) {
	table, err := verificationTable(purpose)
	if err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
