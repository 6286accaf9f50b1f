package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"berrymix-auth/internal/domain"
)

func TestRegister_SetsSessionCookies(t *testing.T) {
	s := newTestServer(t)

	rec := performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "Ana@Example.com",
		"name":     "Ana Test",
		"password": testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	resp := decodeAuth(t, rec)
	if resp.User.Email != "ana@example.com" || resp.User.IsVerified {
		t.Fatalf("unexpected user: %+v", resp.User)
	}
	if resp.Tokens.AccessToken == "" || resp.Tokens.ExpiresIn != 1800 {
		t.Fatalf("unexpected tokens: %+v", resp.Tokens)
	}

	access := findCookie(rec, "acc")
	refresh := findCookie(rec, "ref")
	if access == nil || refresh == nil {
		t.Fatalf("expected both session cookies")
	}
	if !access.HttpOnly || !refresh.HttpOnly || refresh.Path != "/auth/refresh" {
		t.Fatalf("unexpected cookie attributes: %+v %+v", access, refresh)
	}
	if refresh.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected SameSite=Strict, got %v", refresh.SameSite)
	}
	if len(refresh.Value) != 43 {
		t.Fatalf("expected 43-char refresh secret, got %d", len(refresh.Value))
	}
	if body := rec.Body.String(); strings.Contains(body, refresh.Value) || strings.Contains(body, "password") {
		t.Fatalf("response leaks secrets: %s", body)
	}
	if s.sender.last(domain.PurposeEmailVerification) == "" {
		t.Fatalf("expected verification email")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "dup@example.com")

	rec := performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "DUP@example.com",
		"name":     "Otra",
		"password": testPassword,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	s := newTestServer(t)

	rec := performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "weak@example.com",
		"name":     "Weak",
		"password": "password",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Fields["password"] != "password" {
		t.Fatalf("expected password field error, got %v", body.Fields)
	}
}

func TestRegister_PaddedEmailIsNormalized(t *testing.T) {
	s := newTestServer(t)
	reg := s.registerVerified(t, "  A@X.com ")
	if reg.User.Email != "a@x.com" {
		t.Fatalf("expected normalized email, got %q", reg.User.Email)
	}

	rec := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    " a@X.COM  ",
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	forgot := performRequest(s.router, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "\tA@x.com "})
	if forgot.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", forgot.Code)
	}
	if s.sender.last(domain.PurposePasswordReset) == "" {
		t.Fatalf("expected reset email for padded address")
	}
}

func TestRegister_MalformedEmail(t *testing.T) {
	s := newTestServer(t)
	rec := performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "not an address",
		"name":     "Ana",
		"password": testPassword,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Fields["email"] != "email" {
		t.Fatalf("expected email field error, got %v", body.Fields)
	}
}

func TestLogin_UnverifiedIsForbidden(t *testing.T) {
	s := newTestServer(t)
	performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    "pending@example.com",
		"name":     "Pending",
		"password": testPassword,
	})

	rec := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "pending@example.com",
		"password": testPassword,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "ana@example.com")

	for _, body := range []map[string]string{
		{"email": "ana@example.com", "password": "Wrong1!pass"},
		{"email": "nobody@example.com", "password": testPassword},
	} {
		rec := performRequest(s.router, http.MethodPost, "/auth/login", body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", body["email"], rec.Code)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "ana@example.com")

	rec := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ANA@example.com",
		"password": testPassword,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	resp := decodeAuth(t, rec)
	if !resp.User.IsVerified || resp.User.LastLoginAt == nil {
		t.Fatalf("expected verified user with last login, got %+v", resp.User)
	}
	if findCookie(rec, "ref") == nil {
		t.Fatalf("expected refresh cookie")
	}
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "ana@example.com")
	login := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": testPassword,
	})
	original := findCookie(login, "ref")

	rotated := performRequest(s.router, http.MethodPost, "/auth/refresh", nil, withCookie(original))
	if rotated.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rotated.Code, rotated.Body.String())
	}
	next := findCookie(rotated, "ref")
	if next == nil || next.Value == original.Value {
		t.Fatalf("expected a new refresh secret")
	}

	replay := performRequest(s.router, http.MethodPost, "/auth/refresh", nil, withCookie(original))
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", replay.Code)
	}
	if cleared := findCookie(replay, "ref"); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected refresh cookie to be cleared")
	}

	// La familia completa queda revocada tras el reuso.
	after := performRequest(s.router, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		r.Header.Set(refreshTokenHeader, next.Value)
	})
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after family revocation, got %d", after.Code)
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	s := newTestServer(t)
	rec := performRequest(s.router, http.MethodPost, "/auth/refresh", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLogout_RevokesAllSessions(t *testing.T) {
	s := newTestServer(t)
	reg := s.registerVerified(t, "ana@example.com")
	login := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": testPassword,
	})
	refresh := findCookie(login, "ref")

	unauth := performRequest(s.router, http.MethodPost, "/auth/logout", nil)
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", unauth.Code)
	}

	rec := performRequest(s.router, http.MethodPost, "/auth/logout", nil, withBearer(reg.Tokens.AccessToken))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	for _, token := range s.store.RefreshTokensFor(reg.User.ID) {
		if token.Status == domain.RefreshTokenActive {
			t.Fatalf("expected no active refresh tokens, found %s", token.ID)
		}
	}

	after := performRequest(s.router, http.MethodPost, "/auth/refresh", nil, withCookie(refresh))
	if after.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", after.Code)
	}
}

func TestVerifyEmail_InvalidToken(t *testing.T) {
	s := newTestServer(t)

	rec := performRequest(s.router, http.MethodGet, "/auth/verify?token=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = performRequest(s.router, http.MethodGet, "/auth/verify", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", rec.Code)
	}
}

func TestForgotPassword_DoesNotRevealAccounts(t *testing.T) {
	s := newTestServer(t)
	s.registerVerified(t, "ana@example.com")

	known := performRequest(s.router, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ana@example.com"})
	unknown := performRequest(s.router, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ghost@example.com"})
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200 for both, got %d and %d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatalf("expected identical bodies")
	}
	if s.sender.last(domain.PurposePasswordReset) == "" {
		t.Fatalf("expected reset email for the known account")
	}
}

func TestResetPassword_Flow(t *testing.T) {
	s := newTestServer(t)
	reg := s.registerVerified(t, "ana@example.com")
	performRequest(s.router, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ana@example.com"})
	token := s.sender.last(domain.PurposePasswordReset)

	weak := performRequest(s.router, http.MethodPost, "/auth/reset-password?token="+token, map[string]string{"password": "short"})
	if weak.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", weak.Code)
	}

	rec := performRequest(s.router, http.MethodPost, "/auth/reset-password?token="+token, map[string]string{"password": "Nuev0!Pass"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	for _, rt := range s.store.RefreshTokensFor(reg.User.ID) {
		if rt.Status == domain.RefreshTokenActive {
			t.Fatalf("expected sessions revoked after reset")
		}
	}

	replay := performRequest(s.router, http.MethodPost, "/auth/reset-password?token="+token, map[string]string{"password": "Otra0!Pass"})
	if replay.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on reused token, got %d", replay.Code)
	}

	login := performRequest(s.router, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ana@example.com",
		"password": "Nuev0!Pass",
	})
	if login.Code != http.StatusOK {
		t.Fatalf("expected login with new password, got %d", login.Code)
	}
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	reg := s.registerVerified(t, "ana@example.com")

	rec := performRequest(s.router, http.MethodGet, "/users/me", nil, withBearer(reg.Tokens.AccessToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeAuth(t, rec)
	if resp.User.ID != reg.User.ID {
		t.Fatalf("unexpected user %+v", resp.User)
	}

	cookieAuth := performRequest(s.router, http.MethodGet, "/users/me", nil, withCookie(&http.Cookie{Name: "acc", Value: reg.Tokens.AccessToken}))
	if cookieAuth.Code != http.StatusOK {
		t.Fatalf("expected 200 with access cookie, got %d", cookieAuth.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	if rec := performRequest(s.router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
	rec := performRequest(s.router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected metrics exposition, got %d", rec.Code)
	}
}
