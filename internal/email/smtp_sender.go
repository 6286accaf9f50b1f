package email

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/gomail.v2"

	"berrymix-auth/internal/domain"
)

// SMTPSender envia correos via SMTP usando gomail.
type SMTPSender struct {
	dialer      *gomail.Dialer
	from        string
	fromName    string
	frontendURL string
}

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	UseSSL      bool
	FrontendURL string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from is required")
	}
	if strings.TrimSpace(cfg.FrontendURL) == "" {
		return nil, fmt.Errorf("frontend url is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.UseSSL
	return &SMTPSender{
		dialer:      dialer,
		from:        cfg.From,
		fromName:    cfg.FromName,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, toEmail, name, token string, purpose domain.TokenPurpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.buildMessage(toEmail, name, token, purpose)
	if err != nil {
		return err
	}
	return s.dialer.DialAndSend(msg)
}

func (s *SMTPSender) buildMessage(toEmail, name, token string, purpose domain.TokenPurpose) (*gomail.Message, error) {
	if strings.TrimSpace(toEmail) == "" {
		return nil, fmt.Errorf("to email is required")
	}
	link, err := composeLink(s.frontendURL, token, purpose)
	if err != nil {
		return nil, err
	}
	subject, text, html, err := renderContent(name, link, purpose)
	if err != nil {
		return nil, err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.from, s.fromName)
	msg.SetAddressHeader("To", toEmail, name)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", text)
	msg.AddAlternative("text/html", html)
	return msg, nil
}

func composeLink(frontendURL, token string, purpose domain.TokenPurpose) (string, error) {
	var path string
	switch purpose {
	case domain.PurposeEmailVerification:
		path = "/verify-email"
	case domain.PurposePasswordReset:
		path = "/reset-password"
	default:
		return "", fmt.Errorf("unknown email purpose %q", purpose)
	}
	return frontendURL + path + "?token=" + url.QueryEscape(token), nil
}
