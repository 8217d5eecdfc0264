package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// MailDriverSMTP delivers through an SMTP relay.
	MailDriverSMTP = "smtp"
	// MailDriverResend delivers through the Resend HTTP API.
	MailDriverResend = "resend"

	defaultSenderName = "Portfolio"
)

var (
	ErrMailerNotConfigured   = errors.New("notifications: mailer not configured")
	ErrMissingRecipient      = errors.New("notifications: missing recipient")
	ErrMissingSender         = errors.New("notifications: missing sender address")
	ErrUnsupportedMailDriver = errors.New("notifications: unsupported mail driver")
)

// Message is a fully rendered email ready to hand to a relay.
type Message struct {
	FromAddress string
	FromName    string
	To          []string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
}

// Mailer hands a Message to a relay and returns the relay's message identifier when it has one.
type Mailer interface {
	Send(ctx context.Context, message Message) (string, error)
}

// MailerConfig selects and configures a Mailer implementation.
type MailerConfig struct {
	Driver string
	SMTP   SMTPConfig
	Resend ResendConfig
}

// NewMailer builds the Mailer selected by the configured driver.
func NewMailer(configuration MailerConfig) (Mailer, error) {
	driver := strings.ToLower(strings.TrimSpace(configuration.Driver))
	switch driver {
	case "", MailDriverSMTP:
		smtpMailer, smtpErr := NewSMTPMailer(configuration.SMTP)
		if smtpErr != nil {
			return nil, smtpErr
		}
		return smtpMailer, nil
	case MailDriverResend:
		resendMailer, resendErr := NewResendMailer(configuration.Resend)
		if resendErr != nil {
			return nil, resendErr
		}
		return resendMailer, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMailDriver, driver)
	}
}

func validateMessage(message Message) error {
	if len(message.To) == 0 {
		return ErrMissingRecipient
	}
	for _, recipient := range message.To {
		if strings.TrimSpace(recipient) == "" {
			return ErrMissingRecipient
		}
	}
	if strings.TrimSpace(message.FromAddress) == "" {
		return ErrMissingSender
	}
	return nil
}

func senderName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultSenderName
	}
	return trimmed
}
