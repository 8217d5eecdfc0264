package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v3"
)

var ErrMissingResendAPIKey = errors.New("notifications: missing resend api key")

// ResendConfig holds Resend API settings.
type ResendConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	BaseURL     string
}

// ResendMailer delivers messages through the Resend HTTP API.
type ResendMailer struct {
	client        *resend.Client
	configuration ResendConfig
}

// NewResendMailer creates a Resend-backed mailer.
func NewResendMailer(configuration ResendConfig) (*ResendMailer, error) {
	configuration.APIKey = strings.TrimSpace(configuration.APIKey)
	if configuration.APIKey == "" {
		return nil, ErrMissingResendAPIKey
	}
	configuration.FromAddress = strings.TrimSpace(configuration.FromAddress)
	if configuration.FromAddress == "" {
		return nil, ErrMissingSender
	}

	client := resend.NewClient(configuration.APIKey)
	if baseURL := strings.TrimSpace(configuration.BaseURL); baseURL != "" {
		parsedURL, parseErr := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if parseErr != nil {
			return nil, fmt.Errorf("notifications: resend base url: %w", parseErr)
		}
		client.BaseURL = parsedURL
	}

	return &ResendMailer{client: client, configuration: configuration}, nil
}

// Send implements Mailer and returns the Resend email id.
func (mailer *ResendMailer) Send(ctx context.Context, message Message) (string, error) {
	if mailer == nil || mailer.client == nil {
		return "", ErrMailerNotConfigured
	}
	if strings.TrimSpace(message.FromAddress) == "" {
		message.FromAddress = mailer.configuration.FromAddress
	}
	if strings.TrimSpace(message.FromName) == "" {
		message.FromName = mailer.configuration.FromName
	}
	if validationErr := validateMessage(message); validationErr != nil {
		return "", validationErr
	}

	request := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", senderName(message.FromName), strings.TrimSpace(message.FromAddress)),
		To:      message.To,
		Subject: message.Subject,
		Html:    message.HTML,
		Text:    message.Text,
		ReplyTo: strings.TrimSpace(message.ReplyTo),
	}

	response, sendErr := mailer.client.Emails.SendWithContext(ctx, request)
	if sendErr != nil {
		return "", fmt.Errorf("notifications: resend send: %w", sendErr)
	}
	if response == nil {
		return "", nil
	}
	return response.Id, nil
}
