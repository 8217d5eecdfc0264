package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
)

const contactSubjectPrefix = "Portfolio contact from"

var contactHTMLTemplate = template.Must(template.New("contact").Funcs(template.FuncMap{
	"lines": strings.Split,
}).Parse(`<div style="font-family:system-ui,-apple-system,Segoe UI,Roboto;line-height:1.5">
  <h2>New message from the portfolio</h2>
  <p><strong>From:</strong> {{.Name}} &lt;{{.Email}}&gt;</p>
  <p><strong>Message:</strong></p>
  <p style="white-space:pre-wrap">{{range $index, $line := lines .Message "\n"}}{{if $index}}<br>{{end}}{{$line}}{{end}}</p>
</div>`))

// ContactNotifier renders contact submissions into owner notifications and hands them to a Mailer.
type ContactNotifier struct {
	mailer    Mailer
	recipient string
}

// NewContactNotifier creates a notifier addressed to the site owner's mailbox.
func NewContactNotifier(mailer Mailer, recipient string) (*ContactNotifier, error) {
	if mailer == nil {
		return nil, ErrMailerNotConfigured
	}
	normalizedRecipient := strings.TrimSpace(recipient)
	if normalizedRecipient == "" {
		return nil, ErrMissingRecipient
	}
	return &ContactNotifier{mailer: mailer, recipient: normalizedRecipient}, nil
}

// NotifyContact sends the owner notification for a submission and returns the delivery identifier.
func (notifier *ContactNotifier) NotifyContact(ctx context.Context, submission model.ContactSubmission) (string, error) {
	if notifier == nil || notifier.mailer == nil {
		return "", ErrMailerNotConfigured
	}

	message, renderErr := RenderContactMessage(submission, notifier.recipient)
	if renderErr != nil {
		return "", renderErr
	}

	deliveryID, sendErr := notifier.mailer.Send(ctx, message)
	if sendErr != nil {
		return "", fmt.Errorf("notifications: send contact email: %w", sendErr)
	}
	return deliveryID, nil
}

// ContactSubject returns the notification subject for a sender name.
func ContactSubject(name string) string {
	return fmt.Sprintf("%s %s", contactSubjectPrefix, strings.TrimSpace(name))
}

// ContactText returns the plain text body shared by the notification and the mailto fallback.
func ContactText(name string, email string, message string) string {
	return fmt.Sprintf("From: %s <%s>\n\n%s", strings.TrimSpace(name), strings.TrimSpace(email), message)
}

// RenderContactMessage builds the owner notification; the reply-to is the submitter.
func RenderContactMessage(submission model.ContactSubmission, recipient string) (Message, error) {
	var htmlBuffer bytes.Buffer
	normalizedMessage := strings.ReplaceAll(submission.Message, "\r\n", "\n")
	if err := contactHTMLTemplate.Execute(&htmlBuffer, map[string]string{
		"Name":    submission.Name,
		"Email":   submission.Email,
		"Message": normalizedMessage,
	}); err != nil {
		return Message{}, fmt.Errorf("notifications: render contact email: %w", err)
	}

	return Message{
		To:      []string{strings.TrimSpace(recipient)},
		ReplyTo: submission.Email,
		Subject: ContactSubject(submission.Name),
		Text:    ContactText(submission.Name, submission.Email, submission.Message),
		HTML:    htmlBuffer.String(),
	}, nil
}
