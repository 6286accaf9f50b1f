package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"berrymix-auth/internal/domain"
)

// AuthProviderRepository persiste los vínculos usuario-proveedor.
type AuthProviderRepository interface {
	Find(ctx context.Context, provider, providerAccountID string) (domain.AuthProvider, error)
	Create(ctx context.Context, link domain.AuthProvider) error
}

type PgAuthProviderRepository struct {
	pool DB
}

func NewPgAuthProviderRepository(pool DB) *PgAuthProviderRepository {
	return &PgAuthProviderRepository{pool: pool}
}

func (r *PgAuthProviderRepository) Find(ctx context.Context, provider, providerAccountID string) (domain.AuthProvider, error) {
	const query = `
		SELECT id, user_id, provider, provider_account_id, created_at
		FROM auth_providers
		WHERE provider = $1 AND provider_account_id = $2
	`
	var link domain.AuthProvider
	err := r.pool.QueryRow(ctx, query, provider, providerAccountID).Scan(
		&link.ID,
		&link.UserID,
		&link.Provider,
		&link.ProviderAccountID,
		&link.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthProvider{}, ErrNotFound
	}
	return link, err
}

func (r *PgAuthProviderRepository) Create(ctx context.Context, link domain.AuthProvider) error {
	return insertAuthProvider(ctx, r.pool, link)
}

func insertAuthProvider(ctx context.Context, q DBTX, link domain.AuthProvider) error {
	const query = `
		INSERT INTO auth_providers (id, user_id, provider, provider_account_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.Exec(ctx, query,
		link.ID,
		link.UserID,
		link.Provider,
		link.ProviderAccountID,
		link.CreatedAt,
	)
	return classifyPgError(err)
}
