package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

var ErrMissingHost = errors.New("mail: smtp host required")

// Mailer delivers account mail.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to string, token string) error
	SendPasswordResetEmail(ctx context.Context, to string, token string) error
}

// SMTPConfig describes the outbound SMTP relay. BaseURL prefixes links embedded in mail.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	BaseURL     string
}

type sender interface {
	DialAndSend(messages ...*gomail.Message) error
}

// SMTPMailer sends multipart (plain + HTML) mail through gomail.
type SMTPMailer struct {
	config SMTPConfig
	sender sender
}

// NewSMTPMailer constructs a mailer dialing cfg.Host on every send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, ErrMissingHost
	}
	return &SMTPMailer{
		config: cfg,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, to string, token string) error {
	link := m.link("/auth/verify-email", token)
	content := message{
		subject: "Verify your email address",
		plain: fmt.Sprintf(
			"Welcome to Intentions!\n\nPlease verify your email address by visiting:\n%s\n\nThis link expires in 24 hours.\n",
			link,
		),
		html: fmt.Sprintf(
			`<html><body><h2>Welcome to Intentions!</h2><p>Please verify your email address:</p><p><a href="%s">Verify email address</a></p><p>This link expires in 24 hours.</p></body></html>`,
			link,
		),
	}
	return m.send(ctx, to, content)
}

func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, to string, token string) error {
	link := m.link("/auth/password-reset/confirm", token)
	content := message{
		subject: "Reset your password",
		plain: fmt.Sprintf(
			"We received a request to reset your password. Visit the following URL to choose a new one:\n%s\n\nThis link expires in 30 minutes. If you did not ask for a reset, ignore this mail.\n",
			link,
		),
		html: fmt.Sprintf(
			`<html><body><h2>Password reset</h2><p><a href="%s">Choose a new password</a></p><p>This link expires in 30 minutes. If you did not ask for a reset, ignore this mail.</p></body></html>`,
			link,
		),
	}
	return m.send(ctx, to, content)
}

type message struct {
	subject string
	plain   string
	html    string
}

func (m *SMTPMailer) link(path string, token string) string {
	return strings.TrimRight(m.config.BaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (m *SMTPMailer) send(ctx context.Context, to string, content message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.config.FromAddress, m.config.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", content.subject)
	msg.SetBody("text/plain", content.plain)
	msg.AddAlternative("text/html", content.html)
	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("mail: send %q: %w", content.subject, err)
	}
	return nil
}

// LogMailer logs mail instead of sending it. Used when no SMTP host is configured.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendVerificationEmail(_ context.Context, to string, _ string) error {
	m.logger.Info("verification mail suppressed", zap.String("to", to))
	return nil
}

func (m *LogMailer) SendPasswordResetEmail(_ context.Context, to string, _ string) error {
	m.logger.Info("password reset mail suppressed", zap.String("to", to))
	return nil
}
