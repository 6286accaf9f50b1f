package service

import (
	"context"
	"testing"
	"time"

	"berrymix-auth/internal/domain"
)

func TestVerificationService_ConsumeEmailVerificationOnce(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "a@x.com")
	mail, ok := env.sender.last(domain.PurposeEmailVerification)
	if !ok {
		t.Fatalf("expected verification email")
	}

	if err := env.verifications.ConsumeEmailVerification(context.Background(), mail.token); err != nil {
		t.Fatalf("consume: %v", err)
	}
	stored, err := env.store.Users().GetByID(context.Background(), user.ID)
	if err != nil || !stored.IsVerified {
		t.Fatalf("expected verified user, got %+v err %v", stored, err)
	}

	err = env.verifications.ConsumeEmailVerification(context.Background(), mail.token)
	expectErr(t, err, ErrInvalidOrExpiredToken)
}

func TestVerificationService_AlreadyVerifiedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "a@x.com")
	first, ok := env.sender.last(domain.PurposeEmailVerification)
	if !ok {
		t.Fatalf("expected verification email")
	}
	second, err := env.verifications.IssueEmailVerification(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if len(env.store.VerificationTokensFor(domain.PurposeEmailVerification, user.ID)) != 2 {
		t.Fatalf("expected prior verification rows to be kept")
	}

	if err := env.verifications.ConsumeEmailVerification(context.Background(), first.token); err != nil {
		t.Fatalf("consume first: %v", err)
	}
	if err := env.verifications.ConsumeEmailVerification(context.Background(), second); err != nil {
		t.Fatalf("consume second on verified user: %v", err)
	}
	if rows := env.store.VerificationTokensFor(domain.PurposeEmailVerification, user.ID); len(rows) != 0 {
		t.Fatalf("expected all rows deleted, got %d", len(rows))
	}
}

func TestVerificationService_ExpiredEmailTokenDeleted(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerUser(t, "a@x.com")
	mail, _ := env.sender.last(domain.PurposeEmailVerification)

	env.setNow(time.Now().UTC().Add(2 * time.Hour))
	err := env.verifications.ConsumeEmailVerification(context.Background(), mail.token)
	expectErr(t, err, ErrInvalidOrExpiredToken)

	if rows := env.store.VerificationTokensFor(domain.PurposeEmailVerification, user.ID); len(rows) != 0 {
		t.Fatalf("expected expired row deleted, got %d", len(rows))
	}
	stored, _ := env.store.Users().GetByID(context.Background(), user.ID)
	if stored.IsVerified {
		t.Fatalf("expired token must not verify the user")
	}
}

func TestVerificationService_PasswordResetSupersedesPrior(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerifiedUser(t, "a@x.com")

	first, ok, err := env.verifications.IssuePasswordReset(context.Background(), "a@x.com")
	if err != nil || !ok {
		t.Fatalf("issue first: ok=%v err=%v", ok, err)
	}
	second, ok, err := env.verifications.IssuePasswordReset(context.Background(), "A@X.com")
	if err != nil || !ok {
		t.Fatalf("issue second: ok=%v err=%v", ok, err)
	}
	if rows := env.store.VerificationTokensFor(domain.PurposePasswordReset, user.ID); len(rows) != 1 {
		t.Fatalf("expected one live reset row, got %d", len(rows))
	}

	err = env.verifications.ConsumePasswordReset(context.Background(), first.Secret, "Bb2@bbbb")
	expectErr(t, err, ErrInvalidOrExpiredToken)

	if err := env.verifications.ConsumePasswordReset(context.Background(), second.Secret, "Bb2@bbbb"); err != nil {
		t.Fatalf("consume second: %v", err)
	}
}

func TestVerificationService_PasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	ticket, ok, err := env.verifications.IssuePasswordReset(context.Background(), "ghost@x.com")
	if err != nil || ok || ticket.Secret != "" {
		t.Fatalf("expected silent no-op, got ok=%v err=%v", ok, err)
	}
}

func TestVerificationService_ConsumePasswordResetRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerifiedUser(t, "a@x.com")
	if _, _, err := env.sessions.Issue(context.Background(), user.ID); err != nil {
		t.Fatalf("issue session: %v", err)
	}
	ticket, _, err := env.verifications.IssuePasswordReset(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("issue reset: %v", err)
	}

	if err := env.verifications.ConsumePasswordReset(context.Background(), ticket.Secret, "Bb2@bbbb"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	stored, _ := env.store.Users().GetByID(context.Background(), user.ID)
	if !env.hasher.VerifyPassword("Bb2@bbbb", stored.PasswordHash) {
		t.Fatalf("expected new password to verify")
	}
	if env.hasher.VerifyPassword("Aa1!aaaa", stored.PasswordHash) {
		t.Fatalf("old password must stop working")
	}
	if n := countActive(env.store.RefreshTokensFor(user.ID)); n != 0 {
		t.Fatalf("expected sessions revoked, got %d active", n)
	}
	if rows := env.store.VerificationTokensFor(domain.PurposePasswordReset, user.ID); len(rows) != 0 {
		t.Fatalf("expected reset row deleted")
	}

	err = env.verifications.ConsumePasswordReset(context.Background(), ticket.Secret, "Cc3#cccc")
	expectErr(t, err, ErrInvalidOrExpiredToken)
}

func TestVerificationService_PasswordResetWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerifiedUser(t, "a@x.com")
	ticket, _, err := env.verifications.IssuePasswordReset(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	err = env.verifications.ConsumePasswordReset(context.Background(), ticket.Secret, "short")
	expectErr(t, err, ErrValidation)

	// El token sigue vivo tras un rechazo de validación.
	if err := env.verifications.ConsumePasswordReset(context.Background(), ticket.Secret, "Bb2@bbbb"); err != nil {
		t.Fatalf("consume after validation failure: %v", err)
	}
}

func TestVerificationService_ExpiredResetDeleted(t *testing.T) {
	env := newTestEnv(t)
	user := env.registerVerifiedUser(t, "a@x.com")
	ticket, _, err := env.verifications.IssuePasswordReset(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	env.setNow(time.Now().UTC().Add(31 * time.Minute))

	err = env.verifications.ConsumePasswordReset(context.Background(), ticket.Secret, "Bb2@bbbb")
	expectErr(t, err, ErrInvalidOrExpiredToken)
	if rows := env.store.VerificationTokensFor(domain.PurposePasswordReset, user.ID); len(rows) != 0 {
		t.Fatalf("expected expired reset row deleted")
	}
}

func TestValidatePassword(t *testing.T) {
	cases := map[string]bool{
		"Aa1!aaaa":            true,
		"Aa1!aaa":             false,
		"aa1!aaaa":            false,
		"AA1!AAAA":            false,
		"Aaa!aaaa":            false,
		"Aa1aaaaa":            false,
		"Contraseña-Segura-9": true,
	}
	for password, want := range cases {
		if got := ValidatePassword(password); got != want {
			t.Fatalf("ValidatePassword(%q) = %v, want %v", password, got, want)
		}
	}
}
