package email

import (
	"context"
	"errors"

	"berrymix-auth/internal/domain"
)

// Sender envía el token crudo al usuario. El envío es fire-and-forget para el llamador.
type Sender interface {
	Send(ctx context.Context, toEmail, name, token string, purpose domain.TokenPurpose) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _, _, _ string, _ domain.TokenPurpose) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}
