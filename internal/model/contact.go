package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	ContactErrorCodeMissingFields = "missing_fields"
	ContactErrorCodeInvalidEmail  = "invalid_email"
	ContactErrorCodeFieldTooLong  = "field_too_long"

	ContactFieldName    = "name"
	ContactFieldEmail   = "email"
	ContactFieldMessage = "message"

	contactNameMaxRunes           = 120
	contactMessageMaxRunes        = 5000
	contactEmailMaxLength         = 320
	contactUserAgentMaxLength     = 400
	contactSourceAddressMaxLength = 64
)

var (
	ErrMissingName    = &ValidationError{Code: ContactErrorCodeMissingFields, Field: ContactFieldName}
	ErrMissingEmail   = &ValidationError{Code: ContactErrorCodeMissingFields, Field: ContactFieldEmail}
	ErrInvalidEmail   = &ValidationError{Code: ContactErrorCodeInvalidEmail, Field: ContactFieldEmail}
	ErrMissingMessage = &ValidationError{Code: ContactErrorCodeMissingFields, Field: ContactFieldMessage}
	ErrNameTooLong    = &ValidationError{Code: ContactErrorCodeFieldTooLong, Field: ContactFieldName}
	ErrMessageTooLong = &ValidationError{Code: ContactErrorCodeFieldTooLong, Field: ContactFieldMessage}
)

var contactEmailExpression = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError reports a contact input that was rejected before any delivery attempt.
// The message never includes the submitted values.
type ValidationError struct {
	Code  string
	Field string
}

func (validationError *ValidationError) Error() string {
	return fmt.Sprintf("contact: %s: %s", validationError.Code, validationError.Field)
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// ContactSubmission is one visitor inquiry together with the outcome of its delivery.
type ContactSubmission struct {
	ID            string    `gorm:"primaryKey;size:36" bson:"_id" json:"id"`
	Name          string    `gorm:"not null;size:480" bson:"name" json:"name"`
	Email         string    `gorm:"not null;size:320;index" bson:"from" json:"email"`
	Message       string    `gorm:"not null;type:text" bson:"message" json:"message"`
	SubmittedAt   time.Time `gorm:"not null;index" bson:"submittedAt" json:"submitted_at"`
	UserAgent     string    `gorm:"size:400" bson:"userAgent,omitempty" json:"user_agent,omitempty"`
	SourceAddress string    `gorm:"size:64" bson:"ip,omitempty" json:"source_address,omitempty"`
	Delivered     bool      `gorm:"not null;default:false" bson:"delivered" json:"delivered"`
	DeliveryID    string    `gorm:"size:255" bson:"deliveryId,omitempty" json:"delivery_id,omitempty"`
}

// ContactInput holds the raw values used to construct a ContactSubmission.
type ContactInput struct {
	Name          string
	Email         string
	Message       string
	UserAgent     string
	SourceAddress string
	SubmittedAt   time.Time
}

// NewContactSubmission validates the input in a fixed order and returns the first failure.
// The email keeps its case and the message is kept as submitted; see ArchiveRecord.
func NewContactSubmission(input ContactInput) (ContactSubmission, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return ContactSubmission{}, ErrMissingName
	}

	email := strings.TrimSpace(input.Email)
	if email == "" {
		return ContactSubmission{}, ErrMissingEmail
	}
	if len(email) > contactEmailMaxLength || !contactEmailExpression.MatchString(email) {
		return ContactSubmission{}, ErrInvalidEmail
	}

	trimmedMessage := strings.TrimSpace(input.Message)
	if trimmedMessage == "" {
		return ContactSubmission{}, ErrMissingMessage
	}

	if utf8.RuneCountInString(name) > contactNameMaxRunes {
		return ContactSubmission{}, ErrNameTooLong
	}
	if utf8.RuneCountInString(trimmedMessage) > contactMessageMaxRunes {
		return ContactSubmission{}, ErrMessageTooLong
	}

	submittedAt := input.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}

	return ContactSubmission{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         email,
		Message:       input.Message,
		SubmittedAt:   submittedAt.UTC(),
		UserAgent:     truncateBytes(strings.TrimSpace(input.UserAgent), contactUserAgentMaxLength),
		SourceAddress: truncateBytes(strings.TrimSpace(input.SourceAddress), contactSourceAddressMaxLength),
	}, nil
}

// ArchiveRecord returns the copy that is persisted: email lowercased, message trimmed.
func (submission ContactSubmission) ArchiveRecord() ContactSubmission {
	record := submission
	record.Email = strings.ToLower(strings.TrimSpace(submission.Email))
	record.Message = strings.TrimSpace(submission.Message)
	return record
}

// MarkDelivered records that the relay accepted the notification.
func (submission *ContactSubmission) MarkDelivered(deliveryID string) {
	submission.Delivered = true
	submission.DeliveryID = strings.TrimSpace(deliveryID)
}

// MarkFailed records that the notification could not be handed to the relay.
func (submission *ContactSubmission) MarkFailed() {
	submission.Delivered = false
	submission.DeliveryID = ""
}

func truncateBytes(input string, max int) string {
	if len(input) <= max {
		return input
	}
	truncated := input[:max]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}
