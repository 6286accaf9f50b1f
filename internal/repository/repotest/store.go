// Package repotest ofrece repositorios en memoria que respetan las mismas
// restricciones de unicidad y transiciones condicionales que Postgres.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/repository"
)

// Store comparte el estado entre los cuatro repositorios.
type Store struct {
	mu            sync.Mutex
	users         map[string]domain.User
	providers     map[string]domain.AuthProvider
	refreshTokens map[string]domain.RefreshToken
	verifications map[domain.TokenPurpose]map[string]domain.VerificationToken

	// BeforeCreateUser se invoca antes de insertar un usuario; si devuelve error, la inserción falla con él.
	BeforeCreateUser func(user domain.User) error
}

func New() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		providers:     make(map[string]domain.AuthProvider),
		refreshTokens: make(map[string]domain.RefreshToken),
		verifications: map[domain.TokenPurpose]map[string]domain.VerificationToken{
			domain.PurposeEmailVerification: {},
			domain.PurposePasswordReset:     {},
		},
	}
}

func (s *Store) Users() *UserRepo                      { return &UserRepo{s: s} }
func (s *Store) Providers() *ProviderRepo              { return &ProviderRepo{s: s} }
func (s *Store) RefreshTokens() *RefreshTokenRepo      { return &RefreshTokenRepo{s: s} }
func (s *Store) Verifications() *VerificationTokenRepo { return &VerificationTokenRepo{s: s} }

// SeedUser inserta un usuario sin pasar por las validaciones de unicidad.
func (s *Store) SeedUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Store) LinksFor(userID string) []domain.AuthProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuthProvider
	for _, link := range s.providers {
		if link.UserID == userID {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (s *Store) RefreshTokensFor(userID string) []domain.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RefreshToken
	for _, token := range s.refreshTokens {
		if token.UserID == userID {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) VerificationTokensFor(purpose domain.TokenPurpose, userID string) []domain.VerificationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerificationToken
	for _, token := range s.verifications[purpose] {
		if token.UserID == userID {
			out = append(out, token)
		}
	}
	return out
}

func providerKey(provider, accountID string) string {
	return provider + "\x00" + accountID
}

// UserRepo implementa repository.UserRepository.
type UserRepo struct{ s *Store }

var _ repository.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) CreateWithProvider(_ context.Context, user domain.User, link domain.AuthProvider) error {
	if hook := r.s.BeforeCreateUser; hook != nil {
		if err := hook(user); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	if _, ok := r.s.providers[providerKey(link.Provider, link.ProviderAccountID)]; ok {
		return repository.ErrDuplicateProviderLink
	}
	r.s.users[user.ID] = user
	r.s.providers[providerKey(link.Provider, link.ProviderAccountID)] = link
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = domain.NormalizeEmail(email)
	for _, user := range r.s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (r *UserRepo) UpdateFields(_ context.Context, id string, fields domain.UserFields) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if fields.Empty() {
		return nil
	}
	if fields.Name != nil {
		user.Name = *fields.Name
	}
	if fields.AvatarURL != nil {
		user.AvatarURL = *fields.AvatarURL
	}
	if fields.PasswordHash != nil {
		user.PasswordHash = *fields.PasswordHash
	}
	if fields.IsVerified != nil {
		user.IsVerified = *fields.IsVerified
	}
	if fields.IsActive != nil {
		user.IsActive = *fields.IsActive
	}
	if fields.LastLoginAt != nil {
		at := *fields.LastLoginAt
		user.LastLoginAt = &at
	}
	user.UpdatedAt = time.Now().UTC()
	r.s.users[id] = user
	return nil
}

// ProviderRepo implementa repository.AuthProviderRepository.
type ProviderRepo struct{ s *Store }

var _ repository.AuthProviderRepository = (*ProviderRepo)(nil)

func (r *ProviderRepo) Find(_ context.Context, provider, providerAccountID string) (domain.AuthProvider, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	link, ok := r.s.providers[providerKey(provider, providerAccountID)]
	if !ok {
		return domain.AuthProvider{}, repository.ErrNotFound
	}
	return link, nil
}

func (r *ProviderRepo) Create(_ context.Context, link domain.AuthProvider) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := providerKey(link.Provider, link.ProviderAccountID)
	if _, ok := r.s.providers[key]; ok {
		return repository.ErrDuplicateProviderLink
	}
	r.s.providers[key] = link
	return nil
}

// RefreshTokenRepo implementa repository.RefreshTokenRepository.
type RefreshTokenRepo struct{ s *Store }

var _ repository.RefreshTokenRepository = (*RefreshTokenRepo)(nil)

func (r *RefreshTokenRepo) Insert(_ context.Context, token domain.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(token)
}

func (r *RefreshTokenRepo) insertLocked(token domain.RefreshToken) error {
	for _, existing := range r.s.refreshTokens {
		if existing.TokenHash == token.TokenHash {
			return repository.ErrConflict
		}
	}
	r.s.refreshTokens[token.ID] = token
	return nil
}

func (r *RefreshTokenRepo) GetByHash(_ context.Context, tokenHash string) (domain.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, token := range r.s.refreshTokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return domain.RefreshToken{}, repository.ErrNotFound
}

func (r *RefreshTokenRepo) Rotate(_ context.Context, currentID string, next domain.RefreshToken, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.refreshTokens[currentID]
	if !ok || !current.Usable(now) {
		return false, nil
	}
	if err := r.insertLocked(next); err != nil {
		return false, err
	}
	current.Status = domain.RefreshTokenRotated
	current.RevokedAt = &now
	r.s.refreshTokens[currentID] = current
	return true, nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.revokeLocked(userID, now), nil
}

func (s *Store) revokeLocked(userID string, now time.Time) int64 {
	var n int64
	for id, token := range s.refreshTokens {
		if token.UserID == userID && token.Status == domain.RefreshTokenActive {
			token.Status = domain.RefreshTokenRevoked
			at := now
			token.RevokedAt = &at
			s.refreshTokens[id] = token
			n++
		}
	}
	return n
}

func (r *RefreshTokenRepo) CountActive(_ context.Context, userID string, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, token := range r.s.refreshTokens {
		if token.UserID == userID && token.Usable(now) {
			n++
		}
	}
	return n, nil
}

func (r *RefreshTokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, token := range r.s.refreshTokens {
		if token.ExpiresAt.Before(before) {
			delete(r.s.refreshTokens, id)
			n++
		}
	}
	return n, nil
}

// VerificationTokenRepo implementa repository.VerificationTokenRepository.
type VerificationTokenRepo struct{ s *Store }

var _ repository.VerificationTokenRepository = (*VerificationTokenRepo)(nil)

func (r *VerificationTokenRepo) Insert(_ context.Context, token domain.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insertLocked(token)
}

func (r *VerificationTokenRepo) insertLocked(token domain.VerificationToken) error {
	table, ok := r.s.verifications[token.Purpose]
	if !ok {
		return repository.ErrNotFound
	}
	for _, existing := range table {
		if existing.TokenHash == token.TokenHash {
			return repository.ErrConflict
		}
	}
	table[token.ID] = token
	return nil
}

func (r *VerificationTokenRepo) GetByHash(_ context.Context, purpose domain.TokenPurpose, tokenHash string) (domain.VerificationToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, token := range r.s.verifications[purpose] {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return domain.VerificationToken{}, repository.ErrNotFound
}

func (r *VerificationTokenRepo) Delete(_ context.Context, purpose domain.TokenPurpose, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.verifications[purpose], id)
	return nil
}

func (r *VerificationTokenRepo) ReplacePasswordReset(_ context.Context, token domain.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token.Purpose = domain.PurposePasswordReset
	for id, existing := range r.s.verifications[token.Purpose] {
		if existing.UserID == token.UserID {
			delete(r.s.verifications[token.Purpose], id)
		}
	}
	return r.insertLocked(token)
}

func (r *VerificationTokenRepo) ConsumeEmailVerification(_ context.Context, token domain.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	table := r.s.verifications[domain.PurposeEmailVerification]
	if _, ok := table[token.ID]; !ok {
		return repository.ErrNotFound
	}
	user, ok := r.s.users[token.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	delete(table, token.ID)
	user.IsVerified = true
	user.UpdatedAt = time.Now().UTC()
	r.s.users[user.ID] = user
	return nil
}

func (r *VerificationTokenRepo) ConsumePasswordReset(_ context.Context, token domain.VerificationToken, passwordHash string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	table := r.s.verifications[domain.PurposePasswordReset]
	if _, ok := table[token.ID]; !ok {
		return repository.ErrNotFound
	}
	user, ok := r.s.users[token.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	delete(table, token.ID)
	user.PasswordHash = passwordHash
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	r.s.revokeLocked(user.ID, now)
	return nil
}

func (r *VerificationTokenRepo) DeleteExpired(_ context.Context, purpose domain.TokenPurpose, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, token := range r.s.verifications[purpose] {
		if token.ExpiresAt.Before(before) {
			delete(r.s.verifications[purpose], id)
			n++
		}
	}
	return n, nil
}
