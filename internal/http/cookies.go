package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"berrymix-auth/internal/service"
)

// CookieConfig describe las cookies de sesión. Ambas son HttpOnly y SameSite=Strict.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	RefreshPath string
	Secure      bool
}

func (cc CookieConfig) setSession(c *gin.Context, tokens service.TokenPair, now time.Time) {
	c.SetSameSite(http.SameSiteStrictMode)
	accessAge := int(tokens.ExpiresIn)
	c.SetCookie(cc.AccessName, tokens.AccessToken, accessAge, "/", "", cc.Secure, true)

	refreshAge := int(tokens.RefreshExpiresAt.Sub(now).Seconds())
	if refreshAge <= 0 {
		refreshAge = -1
	}
	c.SetCookie(cc.RefreshName, tokens.RefreshToken, refreshAge, cc.refreshPath(), "", cc.Secure, true)
}

func (cc CookieConfig) clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(cc.AccessName, "", -1, "/", "", cc.Secure, true)
	c.SetCookie(cc.RefreshName, "", -1, cc.refreshPath(), "", cc.Secure, true)
}

func (cc CookieConfig) refreshPath() string {
	if cc.RefreshPath == "" {
		return "/auth/refresh"
	}
	return cc.RefreshPath
}
