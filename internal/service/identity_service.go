package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/repository"
)

// IdentityService resuelve credenciales (password u OAuth) a un único usuario.
type IdentityService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	providers   repository.AuthProviderRepository
	hasher      *PasswordHasher
	validate    *validator.Validate
	linkByEmail bool
	now         func() time.Time
}

func NewIdentityService(
	logger *zap.Logger,
	users repository.UserRepository,
	providers repository.AuthProviderRepository,
	hasher *PasswordHasher,
	linkByEmail bool,
) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityService{
		logger:      logger,
		users:       users,
		providers:   providers,
		hasher:      hasher,
		validate:    newValidator(),
		linkByEmail: linkByEmail,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	Email     string `validate:"required,email,max=254"`
	Name      string `validate:"required,min=2,max=50"`
	Password  string `validate:"required,password"`
	AvatarURL string `validate:"omitempty,url,max=2048"`
}

const oauthResolveAttempts = 3

func (s *IdentityService) RegisterWithPassword(ctx context.Context, input RegisterInput) (domain.User, error) {
	input.Email = domain.NormalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)
	input.AvatarURL = strings.TrimSpace(input.AvatarURL)
	if err := s.validate.Struct(input); err != nil {
		return domain.User{}, toValidationError(err)
	}

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		s.logger.Error("hash password failed", zap.Error(err))
		return domain.User{}, err
	}

	now := s.now()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		Name:         input.Name,
		PasswordHash: hash,
		AvatarURL:    input.AvatarURL,
		Role:         domain.RoleUser,
		IsVerified:   false,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	link := newProviderLink(user.ID, domain.ProviderLocal, domain.LocalAccountID(user.ID), now)

	// La unicidad la decide la restricción de la base, no una consulta previa.
	if err := s.users.CreateWithProvider(ctx, user, link); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailAlreadyInUse
		}
		s.logger.Error("create user failed", zap.Error(err))
		return domain.User{}, internalError("register user", err)
	}
	return user, nil
}

// ResolveOAuthIdentity busca por vínculo de proveedor, luego por email (merge), y si no existe crea el usuario.
// Un conflicto de unicidad significa que otro callback concurrente ganó; se reintenta la búsqueda.
func (s *IdentityService) ResolveOAuthIdentity(ctx context.Context, identity domain.OAuthIdentity) (domain.User, error) {
	identity.Provider = strings.ToLower(strings.TrimSpace(identity.Provider))
	identity.ProviderAccountID = strings.TrimSpace(identity.ProviderAccountID)
	identity.Email = domain.NormalizeEmail(identity.Email)

	fields := map[string]string{}
	if identity.Provider == "" || identity.Provider == domain.ProviderLocal {
		fields["provider"] = "invalid"
	}
	if identity.ProviderAccountID == "" {
		fields["provider_account_id"] = "required"
	}
	if identity.Email == "" {
		fields["email"] = "required"
	}
	if len(fields) > 0 {
		return domain.User{}, &ValidationError{Fields: fields}
	}

	var lastErr error
	for attempt := 1; attempt <= oauthResolveAttempts; attempt++ {
		user, err := s.resolveOnce(ctx, identity)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return domain.User{}, err
		}
		lastErr = err
		s.logger.Info("oauth resolve conflict, retrying",
			zap.String("provider", identity.Provider),
			zap.Int("attempt", attempt),
		)
	}
	s.logger.Error("oauth resolve exhausted retries", zap.String("provider", identity.Provider), zap.Error(lastErr))
	return domain.User{}, internalError("resolve oauth identity", lastErr)
}

func (s *IdentityService) resolveOnce(ctx context.Context, identity domain.OAuthIdentity) (domain.User, error) {
	link, err := s.providers.Find(ctx, identity.Provider, identity.ProviderAccountID)
	if err == nil {
		return s.loadUser(ctx, link.UserID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, internalError("find provider link", err)
	}

	now := s.now()
	existing, err := s.users.GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		if !s.linkByEmail {
			return domain.User{}, ErrEmailAlreadyInUse
		}
		link := newProviderLink(existing.ID, identity.Provider, identity.ProviderAccountID, now)
		if err := s.providers.Create(ctx, link); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return domain.User{}, err
			}
			return domain.User{}, internalError("link provider", err)
		}
		s.logger.Info("oauth identity linked to existing user",
			zap.String("user_id", existing.ID),
			zap.String("provider", identity.Provider),
		)
		return existing, nil

	case errors.Is(err, repository.ErrNotFound):
		user := domain.User{
			ID:         uuid.NewString(),
			Email:      identity.Email,
			Name:       identity.DisplayName(),
			AvatarURL:  strings.TrimSpace(identity.PictureURL),
			Role:       domain.RoleUser,
			IsVerified: true,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		link := newProviderLink(user.ID, identity.Provider, identity.ProviderAccountID, now)
		if err := s.users.CreateWithProvider(ctx, user, link); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return domain.User{}, err
			}
			return domain.User{}, internalError("create oauth user", err)
		}
		return user, nil

	default:
		return domain.User{}, internalError("find user by email", err)
	}
}

// HasLocalLink indica si el usuario puede autenticarse con contraseña.
func (s *IdentityService) HasLocalLink(ctx context.Context, userID string) (bool, error) {
	_, err := s.providers.Find(ctx, domain.ProviderLocal, domain.LocalAccountID(userID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, internalError("find local link", err)
}

func (s *IdentityService) loadUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, internalError("load user", err)
	}
	return user, nil
}

func newProviderLink(userID, provider, accountID string, now time.Time) domain.AuthProvider {
	return domain.AuthProvider{
		ID:                uuid.NewString(),
		UserID:            userID,
		Provider:          provider,
		ProviderAccountID: accountID,
		CreatedAt:         now,
	}
}
