package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
)

const (
	queryKeyLimit = "limit"

	jsonKeyContacts = "contacts"
	jsonKeyCount    = "count"

	errorValueArchiveDisabled = "archive_disabled"
	errorValueInvalidLimit    = "invalid_limit"
	errorValueListFailed      = "list_failed"
)

// ContactLister reads archived submissions, newest first.
type ContactLister interface {
	ListContacts(ctx context.Context, limit int) ([]model.ContactSubmission, error)
}

// AdminHandlers serves the archive listing for the site owner.
type AdminHandlers struct {
	logger *zap.Logger
	lister ContactLister
}

// NewAdminHandlers builds the admin handlers; a nil lister answers 503.
func NewAdminHandlers(logger *zap.Logger, lister ContactLister) *AdminHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandlers{logger: logger, lister: lister}
}

type contactResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Message     string `json:"message"`
	SubmittedAt int64  `json:"submitted_at"`
	Delivered   bool   `json:"delivered"`
	DeliveryID  string `json:"delivery_id,omitempty"`
}

// ListContacts returns archived submissions. An optional limit query bounds the result.
func (h *AdminHandlers) ListContacts(context *gin.Context) {
	if h.lister == nil {
		context.JSON(http.StatusServiceUnavailable, gin.H{jsonKeyError: errorValueArchiveDisabled})
		return
	}

	limit := 0
	if rawLimit := strings.TrimSpace(context.Query(queryKeyLimit)); rawLimit != "" {
		parsedLimit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsedLimit < 0 {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLimit})
			return
		}
		limit = parsedLimit
	}

	submissions, listErr := h.lister.ListContacts(context.Request.Context(), limit)
	if listErr != nil {
		h.logger.Warn("contact_list_failed", zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueListFailed})
		return
	}

	contacts := make([]contactResponse, 0, len(submissions))
	for _, submission := range submissions {
		contacts = append(contacts, contactResponse{
			ID:          submission.ID,
			Name:        submission.Name,
			Email:       submission.Email,
			Message:     submission.Message,
			SubmittedAt: submission.SubmittedAt.UTC().Unix(),
			Delivered:   submission.Delivered,
			DeliveryID:  submission.DeliveryID,
		})
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyContacts: contacts, jsonKeyCount: len(contacts)})
}
