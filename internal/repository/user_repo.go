package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"berrymix-auth/internal/domain"
)

// UserRepository define el contrato de persistencia para usuarios.
type UserRepository interface {
	// CreateWithProvider inserta el usuario y su primer vínculo de proveedor en una sola transacción.
	CreateWithProvider(ctx context.Context, user domain.User, link domain.AuthProvider) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	UpdateFields(ctx context.Context, id string, fields domain.UserFields) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool DB
}

func NewPgUserRepository(pool DB) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, avatar_url, role, is_verified, is_active, last_login_at, created_at, updated_at`

func (r *PgUserRepository) CreateWithProvider(ctx context.Context, user domain.User, link domain.AuthProvider) error {
	return withTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		return insertAuthProvider(ctx, tx, link)
	})
}

func insertUser(ctx context.Context, q DBTX, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, name, password_hash, avatar_url, role, is_verified, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		nullableString(user.PasswordHash),
		user.AvatarURL,
		user.Role,
		user.IsVerified,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)
	return classifyPgError(err)
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, domain.NormalizeEmail(email)))
}

// UpdateFields aplica sólo los campos no nulos y refresca updated_at.
// Sin campos no toca la base.
func (r *PgUserRepository) UpdateFields(ctx context.Context, id string, fields domain.UserFields) error {
	if fields.Empty() {
		return nil
	}
	query, args := buildUserUpdate(id, fields, time.Now().UTC())
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func buildUserUpdate(id string, fields domain.UserFields, now time.Time) (string, []any) {
	sets := make([]string, 0, 7)
	args := make([]any, 0, 8)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Name != nil {
		add("name", *fields.Name)
	}
	if fields.AvatarURL != nil {
		add("avatar_url", *fields.AvatarURL)
	}
	if fields.PasswordHash != nil {
		add("password_hash", nullableString(*fields.PasswordHash))
	}
	if fields.IsVerified != nil {
		add("is_verified", *fields.IsVerified)
	}
	if fields.IsActive != nil {
		add("is_active", *fields.IsActive)
	}
	if fields.LastLoginAt != nil {
		add("last_login_at", *fields.LastLoginAt)
	}
	add("updated_at", now)

	args = append(args, id)
	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return query, args
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u            domain.User
		passwordHash *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&passwordHash,
		&u.AvatarURL,
		&u.Role,
		&u.IsVerified,
		&u.IsActive,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return u, nil
}

func nullableString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
