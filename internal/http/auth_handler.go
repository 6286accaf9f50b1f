package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"berrymix-auth/internal/service"
)

const refreshTokenHeader = "X-Refresh-Token"

// AuthHandler expone el flujo de credenciales locales y sesiones.
type AuthHandler struct {
	logger  *zap.Logger
	auth    *service.AuthService
	cookies CookieConfig
	now     func() time.Time
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, cookies CookieConfig) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		logger:  logger,
		auth:    auth,
		cookies: cookies,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register maneja POST /auth/register. El formato del email se valida en el servicio, ya normalizado.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required,max=254"`
		Name      string `json:"name" binding:"required,min=2,max=50"`
		Password  string `json:"password" binding:"required,password"`
		AvatarURL string `json:"avatar_url" binding:"omitempty,url,max=2048"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, "register", err)
		return
	}

	result, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Name:      req.Name,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		writeServiceError(c, h.logger, "register", err, http.StatusBadRequest)
		return
	}

	h.cookies.setSession(c, result.Tokens, h.now())
	c.JSON(http.StatusCreated, gin.H{"user": result.User, "tokens": result.Tokens})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, "login", err)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(c, h.logger, "login", err, http.StatusUnauthorized)
		return
	}

	h.cookies.setSession(c, result.Tokens, h.now())
	c.JSON(http.StatusOK, gin.H{"user": result.User, "tokens": result.Tokens})
}

// Refresh maneja POST /auth/refresh. El secreto llega en la cookie o en X-Refresh-Token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	secret := strings.TrimSpace(c.GetHeader(refreshTokenHeader))
	if secret == "" {
		if value, err := c.Cookie(h.cookies.RefreshName); err == nil {
			secret = strings.TrimSpace(value)
		}
	}
	if secret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), secret)
	if err != nil {
		h.cookies.clearSession(c)
		writeServiceError(c, h.logger, "refresh", err, http.StatusUnauthorized)
		return
	}

	h.cookies.setSession(c, result.Tokens, h.now())
	c.JSON(http.StatusOK, gin.H{"user": result.User, "tokens": result.Tokens})
}

// Logout maneja POST /auth/logout: revoca todas las sesiones del usuario autenticado.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	if err := h.auth.LogoutAll(c.Request.Context(), claims.UserID); err != nil {
		writeServiceError(c, h.logger, "logout", err, http.StatusUnauthorized)
		return
	}
	h.cookies.clearSession(c)
	c.Status(http.StatusNoContent)
}

// VerifyEmail maneja GET /auth/verify?token=.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if err := h.auth.VerifyEmail(c.Request.Context(), token); err != nil {
		writeServiceError(c, h.logger, "verify email", err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "email_verified"})
}

// ForgotPassword maneja POST /auth/forgot-password. La respuesta no revela si la cuenta existe.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, "forgot password", err)
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		writeServiceError(c, h.logger, "forgot password", err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset_requested"})
}

// ResetPassword maneja POST /auth/reset-password?token=.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password" binding:"required,password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, h.logger, "reset password", err)
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(req.Token)
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	if err := h.auth.ResetPassword(c.Request.Context(), token, req.Password); err != nil {
		writeServiceError(c, h.logger, "reset password", err, http.StatusBadRequest)
		return
	}
	h.cookies.clearSession(c)
	c.JSON(http.StatusOK, gin.H{"status": "password_reset"})
}
