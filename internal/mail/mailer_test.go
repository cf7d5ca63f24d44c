package mail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type capturingSender struct {
	messages []*gomail.Message
	err      error
}

func (s *capturingSender) DialAndSend(messages ...*gomail.Message) error {
	s.messages = append(s.messages, messages...)
	return s.err
}

func newTestMailer(t *testing.T) (*SMTPMailer, *capturingSender) {
	t.Helper()
	mailer, err := NewSMTPMailer(SMTPConfig{
		Host:        "smtp.example.com",
		Port:        587,
		FromAddress: "noreply@example.com",
		FromName:    "Intentions",
		BaseURL:     "https://app.example.com/",
	})
	require.NoError(t, err)
	sender := &capturingSender{}
	mailer.sender = sender
	return mailer, sender
}

func TestSendVerificationEmailEmbedsLink(t *testing.T) {
	mailer, sender := newTestMailer(t)

	require.NoError(t, mailer.SendVerificationEmail(context.Background(), "person@example.com", "a+b"))
	require.Len(t, sender.messages, 1)

	msg := sender.messages[0]
	require.Equal(t, []string{"person@example.com"}, msg.GetHeader("To"))
	require.Equal(t, []string{"Verify your email address"}, msg.GetHeader("Subject"))

	require.Equal(t, "https://app.example.com/auth/verify-email?token=a%2Bb", mailer.link("/auth/verify-email", "a+b"))
}

func TestSendPasswordResetWrapsSenderFailure(t *testing.T) {
	mailer, sender := newTestMailer(t)
	sender.err = errors.New("connection refused")

	err := mailer.SendPasswordResetEmail(context.Background(), "person@example.com", "token")
	require.ErrorContains(t, err, "connection refused")
}

func TestSendHonoursCancelledContext(t *testing.T) {
	mailer, sender := newTestMailer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, mailer.SendVerificationEmail(ctx, "person@example.com", "token"), context.Canceled)
	require.Empty(t, sender.messages)
}

func TestNewSMTPMailerRequiresHost(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{})
	require.ErrorIs(t, err, ErrMissingHost)
}
