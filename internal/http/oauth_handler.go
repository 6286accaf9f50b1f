package http

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"berrymix-auth/internal/oauth"
	"berrymix-auth/internal/service"
)

// OAuthHandler conduce el redirect al proveedor y el callback con el código.
type OAuthHandler struct {
	logger      *zap.Logger
	auth        *service.AuthService
	providers   *oauth.Registry
	states      oauth.StateStore
	cookies     CookieConfig
	frontendURL string
	now         func() time.Time
}

func NewOAuthHandler(
	logger *zap.Logger,
	auth *service.AuthService,
	providers *oauth.Registry,
	states oauth.StateStore,
	cookies CookieConfig,
	frontendURL string,
) *OAuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthHandler{
		logger:      logger,
		auth:        auth,
		providers:   providers,
		states:      states,
		cookies:     cookies,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Redirect maneja GET /auth/:provider.
func (h *OAuthHandler) Redirect(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	state, err := oauth.NewState()
	if err != nil {
		h.logger.Error("oauth state generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := h.states.Save(c.Request.Context(), state, provider.Name()); err != nil {
		h.logger.Error("oauth state save failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, provider.AuthCodeURL(state))
}

// Callback maneja GET /auth/:provider/callback. Los fallos vuelven al frontend con ?error=.
func (h *OAuthHandler) Callback(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}
	if denied := c.Query("error"); denied != "" {
		h.logger.Info("oauth consent denied", zap.String("provider", provider.Name()), zap.String("reason", denied))
		h.failRedirect(c, "oauth_denied")
		return
	}

	stateProvider, err := h.states.Consume(c.Request.Context(), c.Query("state"))
	if err != nil || stateProvider != provider.Name() {
		if err != nil && !errors.Is(err, oauth.ErrStateInvalid) {
			h.logger.Error("oauth state lookup failed", zap.Error(err))
		}
		h.failRedirect(c, "invalid_state")
		return
	}

	identity, err := provider.ExchangeCodeForIdentity(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.logger.Warn("oauth exchange failed", zap.String("provider", provider.Name()), zap.Error(err))
		if errors.Is(err, oauth.ErrEmailUnavailable) {
			h.failRedirect(c, "email_unavailable")
			return
		}
		h.failRedirect(c, "oauth_failed")
		return
	}

	result, err := h.auth.OAuthLogin(c.Request.Context(), identity)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailAlreadyInUse):
			h.failRedirect(c, "email_in_use")
		case errors.Is(err, service.ErrInvalidCredentials):
			h.failRedirect(c, "account_disabled")
		default:
			h.logger.Error("oauth login failed", zap.String("provider", provider.Name()), zap.Error(err))
			h.failRedirect(c, "oauth_failed")
		}
		return
	}

	h.cookies.setSession(c, result.Tokens, h.now())
	c.Redirect(http.StatusFound, h.frontendURL+"/profile")
}

func (h *OAuthHandler) failRedirect(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+url.QueryEscape(code))
}
