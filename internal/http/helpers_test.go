package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matthewhartstonge/argon2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/metrics"
	"berrymix-auth/internal/oauth"
	"berrymix-auth/internal/repository/repotest"
	"berrymix-auth/internal/service"
)

const testPassword = "Aa1!aaaa"

type capturedEmail struct {
	to      string
	token   string
	purpose domain.TokenPurpose
}

type captureSender struct {
	mu   sync.Mutex
	sent []capturedEmail
}

func (s *captureSender) Send(_ context.Context, to, _, token string, purpose domain.TokenPurpose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, capturedEmail{to: to, token: token, purpose: purpose})
	return nil
}

func (s *captureSender) last(purpose domain.TokenPurpose) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].purpose == purpose {
			return s.sent[i].token
		}
	}
	return ""
}

type fakeProvider struct {
	name     string
	identity domain.OAuthIdentity
	err      error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCodeForIdentity(_ context.Context, code string) (domain.OAuthIdentity, error) {
	if p.err != nil {
		return domain.OAuthIdentity{}, p.err
	}
	if code != "good-code" {
		return domain.OAuthIdentity{}, oauth.ErrExchangeFailed
	}
	return p.identity, nil
}

var testCookies = CookieConfig{
	AccessName:  "acc",
	RefreshName: "ref",
	RefreshPath: "/auth/refresh",
}

type testServer struct {
	router   *gin.Engine
	store    *repotest.Store
	sender   *captureSender
	jwt      *service.JWTService
	states   oauth.StateStore
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := RegisterBindingRules(); err != nil {
		t.Fatalf("register binding rules: %v", err)
	}

	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	cfg := argon2.DefaultConfig()
	cfg.TimeCost = 1
	cfg.MemoryCost = 1024
	cfg.Parallelism = 1
	hasher := service.NewPasswordHasherWithConfig(cfg)

	store := repotest.New()
	jwtSvc := service.NewJWTService("http-test-secret", "berrymix-test", 30*time.Minute)
	identity := service.NewIdentityService(logger, store.Users(), store.Providers(), hasher, true)
	sessions := service.NewSessionService(logger, store.RefreshTokens(), store.Users(), jwtSvc, m, 7*24*time.Hour)
	verifications := service.NewVerificationService(logger, store.Verifications(), store.Users(), hasher, m, time.Hour, 30*time.Minute)
	sender := &captureSender{}
	authSvc := service.NewAuthService(logger, store.Users(), identity, sessions, verifications, jwtSvc, hasher, sender, m)

	provider := &fakeProvider{name: domain.ProviderGoogle}
	states := oauth.NewMemoryStateStore(time.Minute)

	router := NewRouter(
		logger,
		m,
		reg,
		nil,
		JWTAuthMiddleware(jwtSvc, testCookies.AccessName),
		NewAuthHandler(logger, authSvc, testCookies),
		NewOAuthHandler(logger, authSvc, oauth.NewRegistry(provider), states, testCookies, "http://front.test/"),
		NewUserHandler(logger, authSvc),
	)
	return &testServer{
		router:   router,
		store:    store,
		sender:   sender,
		jwt:      jwtSvc,
		states:   states,
		provider: provider,
	}
}

func performRequest(r http.Handler, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type authResponse struct {
	User   domain.User `json:"user"`
	Tokens struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"tokens"`
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var resp authResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

// registerVerified registra por HTTP y consume el token de verificación enviado.
func (s *testServer) registerVerified(t *testing.T, email string) authResponse {
	t.Helper()
	rec := performRequest(s.router, http.MethodPost, "/auth/register", map[string]string{
		"email":    email,
		"name":     "Ana Test",
		"password": testPassword,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	token := s.sender.last(domain.PurposeEmailVerification)
	verify := performRequest(s.router, http.MethodGet, "/auth/verify?token="+token, nil)
	if verify.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", verify.Code)
	}
	return decodeAuth(t, rec)
}
