// Package mail composes and delivers the transactional mails sent by the
// backend. Delivery goes over SMTP and is retried a fixed number of times
// internally before an error is surfaced to the caller.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
)

const (
	// sendAttempts is how many times a delivery is tried before the error
	// is surfaced.
	sendAttempts = 3

	retryDelay = 500 * time.Millisecond
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is the sender address, e.g. "Dash <no-reply@dashngshop.com>".
	From string
}

// Sender delivers mail over SMTP with internal retry.
type Sender struct {
	config Config
	logger *slog.Logger

	// sendFunc performs one delivery attempt. Replaced in tests.
	sendFunc func(e *email.Email) error
}

// NewSender returns a Sender for the given SMTP config.
func NewSender(config Config, logger *slog.Logger) *Sender {
	sender := &Sender{config: config, logger: logger}
	sender.sendFunc = sender.sendSMTP
	return sender
}

func (s *Sender) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	return e.SendWithTLS(addr, auth, &tls.Config{ServerName: s.config.Host})
}

// send delivers the mail, retrying transient failures up to sendAttempts
// total tries before surfacing the last error.
func (s *Sender) send(ctx context.Context, to, subject, htmlBody string) error {
	e := email.NewEmail()
	e.From = s.config.From
	e.To = []string{to}
	e.Subject = subject
	e.HTML = []byte(htmlBody)

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = s.sendFunc(e); lastErr == nil {
			return nil
		}

		s.logger.WarnContext(ctx, "mail: delivery attempt failed",
			slog.String("subject", subject), slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))

		if attempt < sendAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("sending mail %q: %w", subject, lastErr)
}

// SendLoginAlert mails a login notification to the account holder,
// including the originating IP address when known.
func (s *Sender) SendLoginAlert(ctx context.Context, to, ipAddress string) error {
	return s.send(ctx, to, "Login Alert - Dash", loginAlertBody(ipAddress, time.Now()))
}

// SendWelcome mails the post-registration welcome message.
func (s *Sender) SendWelcome(ctx context.Context, to string) error {
	return s.send(ctx, to, "Welcome to Dash!", welcomeBody())
}
