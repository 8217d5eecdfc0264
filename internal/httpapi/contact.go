package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/notifications"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/task"
	"github.com/MarkoPoloResearchLab/portfolio_contact/pkg/mailto"
)

const (
	jsonKeyError    = "error"
	jsonKeyField    = "field"
	jsonKeyOK       = "ok"
	jsonKeyID       = "id"
	jsonKeyFallback = "fallback"

	errorValueInvalidJSON  = "invalid_json"
	errorValueTooLarge     = "payload_too_large"
	errorValueInvalidInput = "invalid_input"
	errorValueSendFailed   = "send_failed"

	archiveTaskName = "contact_archive"

	// ContactRequestMaxBytes bounds the JSON body read for one submission.
	ContactRequestMaxBytes = 64 << 10
)

// ContactNotifier delivers the owner notification for a submission.
type ContactNotifier interface {
	NotifyContact(ctx context.Context, submission model.ContactSubmission) (string, error)
}

// ContactRecorder keeps an audit record of a submission.
type ContactRecorder interface {
	RecordContact(ctx context.Context, submission model.ContactSubmission) error
}

type noopContactRecorder struct{}

func (noopContactRecorder) RecordContact(ctx context.Context, submission model.ContactSubmission) error {
	return nil
}

func resolveContactRecorder(recorder ContactRecorder) ContactRecorder {
	if recorder == nil {
		return noopContactRecorder{}
	}
	return recorder
}

// ContactConfig holds the owner-facing settings of the contact endpoint.
type ContactConfig struct {
	// Recipient receives every notification.
	Recipient string
	// FallbackRecipient is the address offered in mailto fallbacks; defaults to Recipient.
	FallbackRecipient string
}

// ContactHandlers serves the contact form endpoint.
type ContactHandlers struct {
	logger   *zap.Logger
	notifier ContactNotifier
	recorder ContactRecorder
	runner   *task.DetachedRunner
	config   ContactConfig
	now      func() time.Time
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// NewContactHandlers wires the contact endpoint; a nil recorder disables archiving.
func NewContactHandlers(logger *zap.Logger, notifier ContactNotifier, recorder ContactRecorder, runner *task.DetachedRunner, config ContactConfig) *ContactHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = task.NewDetachedRunner(logger, 0)
	}
	config.Recipient = strings.TrimSpace(config.Recipient)
	config.FallbackRecipient = strings.TrimSpace(config.FallbackRecipient)
	if config.FallbackRecipient == "" {
		config.FallbackRecipient = config.Recipient
	}
	return &ContactHandlers{
		logger:   logger,
		notifier: notifier,
		recorder: resolveContactRecorder(recorder),
		runner:   runner,
		config:   config,
		now:      time.Now,
	}
}

// SubmitContact validates the form, notifies the owner, and archives the attempt.
func (h *ContactHandlers) SubmitContact(context *gin.Context) {
	context.Request.Body = http.MaxBytesReader(context.Writer, context.Request.Body, ContactRequestMaxBytes)

	var payload contactRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		var tooLargeErr *http.MaxBytesError
		if errors.As(bindErr, &tooLargeErr) {
			context.JSON(http.StatusRequestEntityTooLarge, gin.H{jsonKeyError: errorValueTooLarge})
			return
		}
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	email := payload.Email
	if strings.TrimSpace(email) == "" {
		email = payload.From
	}

	submission, validationErr := model.NewContactSubmission(model.ContactInput{
		Name:          payload.Name,
		Email:         email,
		Message:       payload.Message,
		UserAgent:     context.Request.UserAgent(),
		SourceAddress: context.ClientIP(),
		SubmittedAt:   h.now(),
	})
	if validationErr != nil {
		var contactValidationErr *model.ValidationError
		if errors.As(validationErr, &contactValidationErr) {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: contactValidationErr.Code, jsonKeyField: contactValidationErr.Field})
			return
		}
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidInput})
		return
	}

	deliveryID, deliveryErr := h.deliver(context.Request.Context(), submission)
	if deliveryErr != nil {
		submission.MarkFailed()
		h.logger.Error("contact_delivery_failed", zap.Error(deliveryErr), zap.String("submission_id", submission.ID))
		h.archive(context.Request.Context(), submission)
		context.JSON(http.StatusInternalServerError, gin.H{
			jsonKeyError:    errorValueSendFailed,
			jsonKeyFallback: h.fallbackLink(submission),
		})
		return
	}

	submission.MarkDelivered(deliveryID)
	h.archive(context.Request.Context(), submission)

	response := gin.H{jsonKeyOK: true}
	if submission.DeliveryID != "" {
		response[jsonKeyID] = submission.DeliveryID
	}
	context.JSON(http.StatusOK, response)
}

func (h *ContactHandlers) deliver(ctx context.Context, submission model.ContactSubmission) (string, error) {
	if h.notifier == nil {
		return "", notifications.ErrMailerNotConfigured
	}
	return h.notifier.NotifyContact(ctx, submission)
}

func (h *ContactHandlers) archive(ctx context.Context, submission model.ContactSubmission) {
	recorder := h.recorder
	launchErr := h.runner.Go(ctx, archiveTaskName, func(taskCtx context.Context) error {
		if recordErr := recorder.RecordContact(taskCtx, submission); recordErr != nil {
			h.logger.Warn("contact_archive_failed", zap.Error(recordErr), zap.String("submission_id", submission.ID), zap.Bool("delivered", submission.Delivered))
		}
		return nil
	})
	if launchErr != nil {
		h.logger.Warn("contact_archive_skipped", zap.Error(launchErr), zap.String("submission_id", submission.ID))
	}
}

func (h *ContactHandlers) fallbackLink(submission model.ContactSubmission) string {
	if h.config.FallbackRecipient == "" {
		return ""
	}
	return mailto.Link(
		h.config.FallbackRecipient,
		notifications.ContactSubject(submission.Name),
		notifications.ContactText(submission.Name, submission.Email, submission.Message),
	)
}
