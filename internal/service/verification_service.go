package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/metrics"
	"berrymix-auth/internal/repository"
)

// VerificationService gestiona tokens de un solo uso para verificar email y restablecer contraseña.
type VerificationService struct {
	logger   *zap.Logger
	tokens   repository.VerificationTokenRepository
	users    repository.UserRepository
	hasher   *PasswordHasher
	metrics  *metrics.Metrics
	emailTTL time.Duration
	resetTTL time.Duration
	now      func() time.Time
}

func NewVerificationService(
	logger *zap.Logger,
	tokens repository.VerificationTokenRepository,
	users repository.UserRepository,
	hasher *PasswordHasher,
	m *metrics.Metrics,
	emailTTL, resetTTL time.Duration,
) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emailTTL <= 0 {
		emailTTL = time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = 30 * time.Minute
	}
	return &VerificationService{
		logger:   logger,
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		metrics:  m,
		emailTTL: emailTTL,
		resetTTL: resetTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PasswordResetTicket es el resultado de emitir un reset: el usuario destinatario y el secreto crudo.
type PasswordResetTicket struct {
	User   domain.User
	Secret string
}

func (s *VerificationService) IssueEmailVerification(ctx context.Context, userID string) (string, error) {
	secret, row, err := s.newToken(userID, domain.PurposeEmailVerification, s.emailTTL)
	if err != nil {
		return "", err
	}
	// Los tokens previos siguen vigentes; reenviar el email no invalida el anterior.
	if err := s.tokens.Insert(ctx, row); err != nil {
		s.logger.Error("insert email verification failed", zap.String("user_id", userID), zap.Error(err))
		return "", internalError("insert email verification", err)
	}
	s.metrics.VerificationToken(string(domain.PurposeEmailVerification), "issued")
	return secret, nil
}

func (s *VerificationService) ConsumeEmailVerification(ctx context.Context, secret string) error {
	row, err := s.lookup(ctx, domain.PurposeEmailVerification, secret)
	if err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.discard(ctx, row)
			return ErrInvalidOrExpiredToken
		}
		return internalError("load user", err)
	}
	if user.IsVerified {
		if err := s.tokens.Delete(ctx, row.Purpose, row.ID); err != nil {
			return internalError("delete email verification", err)
		}
		return nil
	}

	if err := s.tokens.ConsumeEmailVerification(ctx, row); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		s.logger.Error("consume email verification failed", zap.String("user_id", row.UserID), zap.Error(err))
		return internalError("consume email verification", err)
	}
	s.metrics.VerificationToken(string(domain.PurposeEmailVerification), "consumed")
	return nil
}

// IssuePasswordReset devuelve ok=false sin error cuando el email no corresponde a una cuenta activa,
// para que el llamador responda igual en ambos casos.
func (s *VerificationService) IssuePasswordReset(ctx context.Context, email string) (PasswordResetTicket, bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return PasswordResetTicket{}, false, nil
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return PasswordResetTicket{}, false, nil
		}
		return PasswordResetTicket{}, false, internalError("find user by email", err)
	}
	if !user.IsActive {
		return PasswordResetTicket{}, false, nil
	}

	secret, row, err := s.newToken(user.ID, domain.PurposePasswordReset, s.resetTTL)
	if err != nil {
		return PasswordResetTicket{}, false, err
	}
	if err := s.tokens.ReplacePasswordReset(ctx, row); err != nil {
		s.logger.Error("replace password reset failed", zap.String("user_id", user.ID), zap.Error(err))
		return PasswordResetTicket{}, false, internalError("replace password reset", err)
	}
	s.metrics.VerificationToken(string(domain.PurposePasswordReset), "issued")
	return PasswordResetTicket{User: user, Secret: secret}, true, nil
}

// ConsumePasswordReset cambia la contraseña, borra el token y revoca las sesiones activas en una sola transacción.
func (s *VerificationService) ConsumePasswordReset(ctx context.Context, secret, newPassword string) error {
	if !ValidatePassword(newPassword) {
		return &ValidationError{Fields: map[string]string{"password": "password"}}
	}
	row, err := s.lookup(ctx, domain.PurposePasswordReset, secret)
	if err != nil {
		return err
	}

	hash, err := s.hasher.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("hash password failed", zap.Error(err))
		return err
	}

	if err := s.tokens.ConsumePasswordReset(ctx, row, hash, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		s.logger.Error("consume password reset failed", zap.String("user_id", row.UserID), zap.Error(err))
		return internalError("consume password reset", err)
	}
	s.logger.Info("password reset", zap.String("user_id", row.UserID))
	s.metrics.VerificationToken(string(domain.PurposePasswordReset), "consumed")
	return nil
}

// PruneExpired borra filas vencidas de ambos propósitos.
func (s *VerificationService) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, purpose := range []domain.TokenPurpose{domain.PurposeEmailVerification, domain.PurposePasswordReset} {
		n, err := s.tokens.DeleteExpired(ctx, purpose, before)
		if err != nil {
			return total, internalError("prune "+string(purpose), err)
		}
		total += n
	}
	return total, nil
}

// lookup resuelve el secreto a su fila; una fila vencida se borra y se trata como inexistente.
func (s *VerificationService) lookup(ctx context.Context, purpose domain.TokenPurpose, secret string) (domain.VerificationToken, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return domain.VerificationToken{}, ErrInvalidOrExpiredToken
	}
	row, err := s.tokens.GetByHash(ctx, purpose, Fingerprint(secret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.VerificationToken{}, ErrInvalidOrExpiredToken
		}
		return domain.VerificationToken{}, internalError("lookup "+string(purpose), err)
	}
	if row.Expired(s.now()) {
		s.discard(ctx, row)
		return domain.VerificationToken{}, ErrInvalidOrExpiredToken
	}
	return row, nil
}

func (s *VerificationService) discard(ctx context.Context, row domain.VerificationToken) {
	if err := s.tokens.Delete(ctx, row.Purpose, row.ID); err != nil {
		s.logger.Warn("delete stale token failed", zap.String("purpose", string(row.Purpose)), zap.Error(err))
	}
}

func (s *VerificationService) newToken(userID string, purpose domain.TokenPurpose, ttl time.Duration) (string, domain.VerificationToken, error) {
	secret, err := generateOpaqueSecret()
	if err != nil {
		return "", domain.VerificationToken{}, internalError("generate token", err)
	}
	now := s.now()
	return secret, domain.VerificationToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: Fingerprint(secret),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}
