package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matthewhartstonge/argon2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"berrymix-auth/internal/domain"
	"berrymix-auth/internal/metrics"
	"berrymix-auth/internal/repository/repotest"
)

type sentEmail struct {
	to      string
	name    string
	token   string
	purpose domain.TokenPurpose
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, to, name, token string, purpose domain.TokenPurpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{to: to, name: name, token: token, purpose: purpose})
	return m.err
}

func (m *mockEmailSender) last(purpose domain.TokenPurpose) (sentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].purpose == purpose {
			return m.sent[i], true
		}
	}
	return sentEmail{}, false
}

type testEnv struct {
	store         *repotest.Store
	hasher        *PasswordHasher
	jwt           *JWTService
	identity      *IdentityService
	sessions      *SessionService
	verifications *VerificationService
	auth          *AuthService
	sender        *mockEmailSender
	metrics       *metrics.Metrics
}

func newTestHasher() *PasswordHasher {
	cfg := argon2.DefaultConfig()
	cfg.TimeCost = 1
	cfg.MemoryCost = 1024
	cfg.Parallelism = 1
	return NewPasswordHasherWithConfig(cfg)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := repotest.New()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	hasher := newTestHasher()
	jwtSvc := NewJWTService("test-secret", "berrymix-test", 30*time.Minute)
	identity := NewIdentityService(logger, store.Users(), store.Providers(), hasher, true)
	sessions := NewSessionService(logger, store.RefreshTokens(), store.Users(), jwtSvc, m, 7*24*time.Hour)
	verifications := NewVerificationService(logger, store.Verifications(), store.Users(), hasher, m, time.Hour, 30*time.Minute)
	sender := &mockEmailSender{}
	auth := NewAuthService(logger, store.Users(), identity, sessions, verifications, jwtSvc, hasher, sender, m)
	return &testEnv{
		store:         store,
		hasher:        hasher,
		jwt:           jwtSvc,
		identity:      identity,
		sessions:      sessions,
		verifications: verifications,
		auth:          auth,
		sender:        sender,
		metrics:       m,
	}
}

// setNow fija el reloj de todos los servicios.
func (e *testEnv) setNow(now time.Time) {
	clock := func() time.Time { return now }
	e.jwt.now = clock
	e.identity.now = clock
	e.sessions.now = clock
	e.verifications.now = clock
	e.auth.now = clock
}

func (e *testEnv) registerUser(t *testing.T, emailAddr string) domain.User {
	t.Helper()
	result, err := e.auth.Register(context.Background(), RegisterInput{
		Email:    emailAddr,
		Name:     "Ana Test",
		Password: "Aa1!aaaa",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return result.User
}

func (e *testEnv) registerVerifiedUser(t *testing.T, emailAddr string) domain.User {
	t.Helper()
	user := e.registerUser(t, emailAddr)
	mail, ok := e.sender.last(domain.PurposeEmailVerification)
	if !ok {
		t.Fatalf("expected verification email")
	}
	if err := e.auth.VerifyEmail(context.Background(), mail.token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	return user
}

func countActive(tokens []domain.RefreshToken) int {
	n := 0
	for _, token := range tokens {
		if token.Status == domain.RefreshTokenActive {
			n++
		}
	}
	return n
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
