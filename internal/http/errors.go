package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"berrymix-auth/internal/service"
)

// writeServiceError traduce la taxonomía del servicio a HTTP. tokenStatus distingue
// refresh (401) de verify/reset (400). Los fallos internos nunca exponen detalle.
func writeServiceError(c *gin.Context, logger *zap.Logger, op string, err error, tokenStatus int) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": verr.Fields})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, service.ErrEmailAlreadyInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "email already in use"})
	case errors.Is(err, service.ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "email not verified"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		c.JSON(tokenStatus, gin.H{"error": "invalid or expired token"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// writeBindError responde 400 con los campos rechazados por el binding de gin.
func writeBindError(c *gin.Context, logger *zap.Logger, op string, err error) {
	logger.Warn("invalid "+op+" request", zap.Error(err))
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
}
