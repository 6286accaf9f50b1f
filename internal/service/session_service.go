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

// SessionService es dueño de los refresh tokens: emisión, rotación de un solo uso y detección de reuso.
type SessionService struct {
	logger     *zap.Logger
	tokens     repository.RefreshTokenRepository
	users      repository.UserRepository
	jwt        *JWTService
	metrics    *metrics.Metrics
	refreshTTL time.Duration
	now        func() time.Time
}

func NewSessionService(
	logger *zap.Logger,
	tokens repository.RefreshTokenRepository,
	users repository.UserRepository,
	jwt *JWTService,
	m *metrics.Metrics,
	refreshTTL time.Duration,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &SessionService{
		logger:     logger,
		tokens:     tokens,
		users:      users,
		jwt:        jwt,
		metrics:    m,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RotateResult es lo que devuelve una rotación exitosa.
type RotateResult struct {
	User             domain.User
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

const revokeTimeout = 5 * time.Second

// Issue genera un secreto nuevo y persiste sólo su fingerprint.
func (s *SessionService) Issue(ctx context.Context, userID string) (string, domain.RefreshToken, error) {
	secret, err := generateOpaqueSecret()
	if err != nil {
		return "", domain.RefreshToken{}, internalError("generate refresh secret", err)
	}
	now := s.now()
	row := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: Fingerprint(secret),
		Status:    domain.RefreshTokenActive,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Insert(ctx, row); err != nil {
		s.logger.Error("insert refresh token failed", zap.String("user_id", userID), zap.Error(err))
		return "", domain.RefreshToken{}, internalError("insert refresh token", err)
	}
	s.metrics.SessionIssued()
	return secret, row, nil
}

// Rotate canjea un refresh secret por un access token y un secreto nuevo.
// Presentar un secreto ya consumido, revocado o vencido revoca todas las sesiones del usuario.
func (s *SessionService) Rotate(ctx context.Context, presentedSecret string) (RotateResult, error) {
	presentedSecret = strings.TrimSpace(presentedSecret)
	if presentedSecret == "" {
		s.metrics.Rotation("invalid")
		return RotateResult{}, ErrInvalidOrExpiredToken
	}

	current, err := s.tokens.GetByHash(ctx, Fingerprint(presentedSecret))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Rotation("invalid")
			return RotateResult{}, ErrInvalidOrExpiredToken
		}
		s.logger.Error("lookup refresh token failed", zap.Error(err))
		return RotateResult{}, internalError("lookup refresh token", err)
	}

	now := s.now()
	if !current.Usable(now) {
		return RotateResult{}, s.reuseDetected(ctx, current, string(current.Status))
	}

	secret, err := generateOpaqueSecret()
	if err != nil {
		return RotateResult{}, internalError("generate refresh secret", err)
	}
	rotatedFrom := current.ID
	next := domain.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      current.UserID,
		TokenHash:   Fingerprint(secret),
		Status:      domain.RefreshTokenActive,
		ExpiresAt:   now.Add(s.refreshTTL),
		RotatedFrom: &rotatedFrom,
		CreatedAt:   now,
	}

	rotated, err := s.tokens.Rotate(ctx, current.ID, next, now)
	if err != nil {
		s.logger.Error("rotate refresh token failed", zap.String("user_id", current.UserID), zap.Error(err))
		return RotateResult{}, internalError("rotate refresh token", err)
	}
	if !rotated {
		return RotateResult{}, s.reuseDetected(ctx, current, "lost_race")
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return RotateResult{}, internalError("load session user", err)
	}
	if err != nil || !user.IsActive {
		if _, revokeErr := s.RevokeAll(ctx, current.UserID); revokeErr != nil {
			return RotateResult{}, revokeErr
		}
		s.metrics.Rotation("invalid")
		return RotateResult{}, ErrInvalidOrExpiredToken
	}

	access, err := s.jwt.SignAccessToken(user)
	if err != nil {
		return RotateResult{}, internalError("sign access token", err)
	}

	s.metrics.Rotation("ok")
	return RotateResult{
		User:             user,
		AccessToken:      access,
		RefreshToken:     secret,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

func (s *SessionService) reuseDetected(ctx context.Context, row domain.RefreshToken, reason string) error {
	revoked, err := s.RevokeAll(ctx, row.UserID)
	if err != nil {
		return err
	}
	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", row.UserID),
		zap.String("token_id", row.ID),
		zap.String("reason", reason),
		zap.Int64("revoked", revoked),
	)
	s.metrics.ReuseDetected()
	s.metrics.Rotation("reuse")
	return ErrSessionReuseDetected
}

// RevokeAll marca como revocados todos los refresh tokens activos del usuario.
// Corre desacoplado de la cancelación del caller: un cliente que se desconecta no la interrumpe.
func (s *SessionService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
	defer cancel()

	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		s.logger.Error("revoke refresh tokens failed", zap.String("user_id", userID), zap.Error(err))
		return 0, internalError("revoke refresh tokens", err)
	}
	s.metrics.TokensRevoked(n)
	return n, nil
}

// ActiveSessions cuenta refresh tokens vivos; lo usa la CLI de operación.
func (s *SessionService) ActiveSessions(ctx context.Context, userID string) (int64, error) {
	n, err := s.tokens.CountActive(ctx, userID, s.now())
	if err != nil {
		return 0, internalError("count active sessions", err)
	}
	return n, nil
}

// PruneExpired borra filas vencidas antes de before. La expiración sigue evaluándose al leer.
func (s *SessionService) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, before)
	if err != nil {
		return 0, internalError("prune refresh tokens", err)
	}
	return n, nil
}
