package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/tfplatform/eventfabric/pkg/config"
)

// Transport submits an assembled RFC 5322 message. Tests inject a fake; the
// production implementation talks SMTP.
type Transport interface {
	Send(ctx context.Context, from string, recipients []string, message []byte) error
}

// SMTPTransport submits through net/smtp. With starttls set the TLS upgrade
// is mandatory and a server that cannot negotiate it refuses the message;
// otherwise the upgrade is opportunistic.
type SMTPTransport struct {
	addr     string
	host     string
	user     string
	password string
	startTLS bool
}

// NewSMTPTransport builds the production transport from configuration
func NewSMTPTransport(cfg config.MailerConfig) *SMTPTransport {
	return &SMTPTransport{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		user:     cfg.User,
		password: cfg.Password,
		startTLS: cfg.StartTLS,
	}
}

// Send submits the message. net/smtp has no context support; cancellation is
// bounded by the server's own timeouts.
func (t *SMTPTransport) Send(_ context.Context, from string, recipients []string, message []byte) error {
	if t.startTLS {
		return t.sendWithStartTLS(from, recipients, message)
	}
	if err := smtp.SendMail(t.addr, t.auth(), from, recipients, message); err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	return nil
}

// sendWithStartTLS runs the submission dialog by hand so the TLS upgrade can
// be required instead of opportunistic
func (t *SMTPTransport) sendWithStartTLS(from string, recipients []string, message []byte) error {
	c, err := smtp.Dial(t.addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
		return fmt.Errorf("smtp starttls failed: %w", err)
	}
	if auth := t.auth(); auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp submission failed: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp submission failed: %w", err)
	}
	return c.Quit()
}

func (t *SMTPTransport) auth() smtp.Auth {
	if t.user == "" {
		return nil
	}
	return smtp.PlainAuth("", t.user, t.password, t.host)
}
