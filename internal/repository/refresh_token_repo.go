package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"berrymix-auth/internal/domain"
)

// RefreshTokenRepository persiste los fingerprints de refresh tokens y su estado.
type RefreshTokenRepository interface {
	Insert(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error)
	// Rotate marca currentID como rotado sólo si sigue activo e inserta next en la misma
	// transacción. Devuelve false si otra petición ganó la carrera.
	Rotate(ctx context.Context, currentID string, next domain.RefreshToken, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	CountActive(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type PgRefreshTokenRepository struct {
	pool DB
}

func NewPgRefreshTokenRepository(pool DB) *PgRefreshTokenRepository {
	return &PgRefreshTokenRepository{pool: pool}
}

var errRotationLost = errors.New("refresh token no longer active")

func (r *PgRefreshTokenRepository) Insert(ctx context.Context, token domain.RefreshToken) error {
	return insertRefreshToken(ctx, r.pool, token)
}

func insertRefreshToken(ctx context.Context, q DBTX, token domain.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (id, user_id, token_hash, status, expires_at, rotated_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		string(token.Status),
		token.ExpiresAt,
		token.RotatedFrom,
		token.CreatedAt,
	)
	return classifyPgError(err)
}

func (r *PgRefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	const query = `
		SELECT id, user_id, token_hash, status, expires_at, revoked_at, rotated_from, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	var (
		token  domain.RefreshToken
		status string
	)
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&status,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.RotatedFrom,
		&token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RefreshToken{}, ErrNotFound
	}
	if err != nil {
		return domain.RefreshToken{}, err
	}
	token.Status = domain.RefreshTokenStatus(status)
	return token, nil
}

func (r *PgRefreshTokenRepository) Rotate(ctx context.Context, currentID string, next domain.RefreshToken, now time.Time) (bool, error) {
	err := withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		affected, err := markRotated(ctx, tx, currentID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return errRotationLost
		}
		return insertRefreshToken(ctx, tx, next)
	})
	if errors.Is(err, errRotationLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// markRotated es el compare-and-set de la rotación: sólo una transacción ve una fila afectada.
func markRotated(ctx context.Context, q DBTX, id string, now time.Time) (int64, error) {
	const query = `
		UPDATE refresh_tokens
		SET status = 'rotated', revoked_at = $2
		WHERE id = $1 AND status = 'active' AND expires_at > $2
	`
	tag, err := q.Exec(ctx, query, id, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	return revokeRefreshTokens(ctx, r.pool, userID, now)
}

func revokeRefreshTokens(ctx context.Context, q DBTX, userID string, now time.Time) (int64, error) {
	const query = `
		UPDATE refresh_tokens
		SET status = 'revoked', revoked_at = $2
		WHERE user_id = $1 AND status = 'active'
	`
	tag, err := q.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRefreshTokenRepository) CountActive(ctx context.Context, userID string, now time.Time) (int64, error) {
	const query = `
		SELECT count(*) FROM refresh_tokens
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
	`
	var n int64
	err := r.pool.QueryRow(ctx, query, userID, now).Scan(&n)
	return n, err
}

func (r *PgRefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
