package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/email"
	"berrymix-auth/internal/metrics"
	"berrymix-auth/internal/repository"
)

// AuthService compone identidad, sesiones y verificación en las operaciones que expone el transporte.
type AuthService struct {
	logger        *zap.Logger
	users         repository.UserRepository
	identity      *IdentityService
	sessions      *SessionService
	verifications *VerificationService
	jwt           *JWTService
	hasher        *PasswordHasher
	emailSender   email.Sender
	metrics       *metrics.Metrics
	now           func() time.Time
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	identity *IdentityService,
	sessions *SessionService,
	verifications *VerificationService,
	jwt *JWTService,
	hasher *PasswordHasher,
	emailSender email.Sender,
	m *metrics.Metrics,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emailSender == nil {
		emailSender = email.NewDisabledSender("")
	}
	return &AuthService{
		logger:        logger,
		users:         users,
		identity:      identity,
		sessions:      sessions,
		verifications: verifications,
		jwt:           jwt,
		hasher:        hasher,
		emailSender:   emailSender,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"-"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"-"`
}

type AuthResult struct {
	User   domain.User
	Tokens TokenPair
}

const emailSendTimeout = 10 * time.Second

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	user, err := s.identity.RegisterWithPassword(ctx, input)
	if err != nil {
		return AuthResult{}, err
	}

	// El usuario ya existe: un fallo al emitir o enviar la verificación se loguea, no se revierte.
	secret, err := s.verifications.IssueEmailVerification(ctx, user.ID)
	if err != nil {
		s.logger.Error("issue email verification failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		s.deliver(ctx, user, secret, domain.PurposeEmailVerification)
	}

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return AuthResult{User: user, Tokens: tokens}, nil
}

// Login nunca revela si el email existe ni con qué proveedor se registró la cuenta.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (AuthResult, error) {
	emailAddr = domain.NormalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		s.metrics.Login("password", "invalid")
		return AuthResult{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.BurnVerification(password)
			s.metrics.Login("password", "invalid")
			return AuthResult{}, ErrInvalidCredentials
		}
		s.logger.Error("login lookup failed", zap.Error(err))
		return AuthResult{}, internalError("find user by email", err)
	}
	if !user.IsActive {
		s.hasher.BurnVerification(password)
		s.metrics.Login("password", "invalid")
		return AuthResult{}, ErrInvalidCredentials
	}

	hasLocal, err := s.identity.HasLocalLink(ctx, user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if !hasLocal || !user.HasPassword() {
		s.hasher.BurnVerification(password)
		s.metrics.Login("password", "invalid")
		return AuthResult{}, ErrInvalidCredentials
	}
	if !s.hasher.VerifyPassword(password, user.PasswordHash) {
		s.metrics.Login("password", "invalid")
		return AuthResult{}, ErrInvalidCredentials
	}
	if !user.IsVerified {
		s.metrics.Login("password", "unverified")
		return AuthResult{}, ErrEmailNotVerified
	}

	result, err := s.completeLogin(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.metrics.Login("password", "ok")
	return result, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshSecret string) (AuthResult, error) {
	rotated, err := s.sessions.Rotate(ctx, refreshSecret)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		User: rotated.User,
		Tokens: TokenPair{
			AccessToken:      rotated.AccessToken,
			RefreshToken:     rotated.RefreshToken,
			ExpiresIn:        int64(s.jwt.AccessTTL().Seconds()),
			RefreshExpiresAt: rotated.RefreshExpiresAt,
		},
	}, nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidCredentials
	}
	revoked, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Info("user logged out", zap.String("user_id", userID), zap.Int64("revoked", revoked))
	return nil
}

func (s *AuthService) OAuthLogin(ctx context.Context, identity domain.OAuthIdentity) (AuthResult, error) {
	user, err := s.identity.ResolveOAuthIdentity(ctx, identity)
	if err != nil {
		s.metrics.Login(identity.Provider, "invalid")
		return AuthResult{}, err
	}
	if !user.IsActive {
		s.metrics.Login(identity.Provider, "invalid")
		return AuthResult{}, ErrInvalidCredentials
	}
	result, err := s.completeLogin(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.metrics.Login(identity.Provider, "ok")
	return result, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	return s.verifications.ConsumeEmailVerification(ctx, token)
}

// ForgotPassword responde igual exista o no la cuenta.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	ticket, ok, err := s.verifications.IssuePasswordReset(ctx, emailAddr)
	if err != nil {
		return err
	}
	if ok {
		s.deliver(ctx, ticket.User, ticket.Secret, domain.PurposePasswordReset)
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.verifications.ConsumePasswordReset(ctx, token, newPassword)
}

// Me devuelve el usuario autenticado; uno inexistente o desactivado es ErrUserNotFound.
func (s *AuthService) Me(ctx context.Context, userID string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, internalError("load user", err)
	}
	if !user.IsActive {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) completeLogin(ctx context.Context, user domain.User) (AuthResult, error) {
	now := s.now()
	if err := s.users.UpdateFields(ctx, user.ID, domain.UserFields{LastLoginAt: &now}); err != nil {
		s.logger.Error("update last login failed", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, internalError("update last login", err)
	}
	user.LastLoginAt = &now

	tokens, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Tokens: tokens}, nil
}

func (s *AuthService) issueSession(ctx context.Context, user domain.User) (TokenPair, error) {
	access, err := s.jwt.SignAccessToken(user)
	if err != nil {
		return TokenPair{}, internalError("sign access token", err)
	}
	secret, row, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		ExpiresIn:        int64(s.jwt.AccessTTL().Seconds()),
		RefreshExpiresAt: row.ExpiresAt,
	}, nil
}

func (s *AuthService) deliver(ctx context.Context, user domain.User, secret string, purpose domain.TokenPurpose) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emailSendTimeout)
	defer cancel()
	if err := s.emailSender.Send(ctx, user.Email, user.Name, secret, purpose); err != nil {
		s.metrics.EmailDeliveryFailed(string(purpose))
		s.logger.Warn("send email failed",
			zap.String("user_id", user.ID),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
	}
}
