package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/model"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/notifications"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/storage"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/task"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/testutil"
)

const (
	contactPath        = "/api/contact"
	testOwnerAddress   = "owner@example.com"
	testDeliveryID     = "<delivery-1@example.com>"
	archiveFailedEvent = "contact_archive_failed"
)

type recordingMailer struct {
	mutex    sync.Mutex
	messages []notifications.Message
	sendErr  error
}

func (mailer *recordingMailer) Send(ctx context.Context, message notifications.Message) (string, error) {
	mailer.mutex.Lock()
	defer mailer.mutex.Unlock()
	mailer.messages = append(mailer.messages, message)
	if mailer.sendErr != nil {
		return "", mailer.sendErr
	}
	return testDeliveryID, nil
}

func (mailer *recordingMailer) sent() []notifications.Message {
	mailer.mutex.Lock()
	defer mailer.mutex.Unlock()
	return append([]notifications.Message(nil), mailer.messages...)
}

type countingRecorder struct {
	mutex       sync.Mutex
	submissions []model.ContactSubmission
	recordErr   error
}

func (recorder *countingRecorder) RecordContact(ctx context.Context, submission model.ContactSubmission) error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.submissions = append(recorder.submissions, submission)
	return recorder.recordErr
}

func (recorder *countingRecorder) recorded() []model.ContactSubmission {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]model.ContactSubmission(nil), recorder.submissions...)
}

type contactHarness struct {
	router   *gin.Engine
	mailer   *recordingMailer
	recorder *countingRecorder
	runner   *task.DetachedRunner
	logs     *observer.ObservedLogs
}

func newContactHarness(testingT *testing.T, sendErr error, recordErr error) contactHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	mailer := &recordingMailer{sendErr: sendErr}
	notifier, notifierErr := notifications.NewContactNotifier(mailer, testOwnerAddress)
	require.NoError(testingT, notifierErr)

	recorder := &countingRecorder{recordErr: recordErr}
	runner := task.NewDetachedRunner(logger, time.Second)

	handlers := httpapi.NewContactHandlers(logger, notifier, recorder, runner, httpapi.ContactConfig{Recipient: testOwnerAddress})
	router := gin.New()
	router.POST(contactPath, handlers.SubmitContact)

	return contactHarness{router: router, mailer: mailer, recorder: recorder, runner: runner, logs: logs}
}

func postContact(testingT *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	testingT.Helper()
	request := httptest.NewRequest(http.MethodPost, contactPath, bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "contact-test-agent")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(testingT *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	testingT.Helper()
	var payload map[string]any
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func TestSubmitContactDeliversNotification(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)

	recorder := postContact(testingT, harness.router, `{"name":"Ana","email":"ana@example.com","message":"Hola"}`)
	harness.runner.Wait()

	require.Equal(testingT, http.StatusOK, recorder.Code)
	payload := decodeBody(testingT, recorder)
	require.Equal(testingT, true, payload["ok"])
	require.Equal(testingT, testDeliveryID, payload["id"])

	messages := harness.mailer.sent()
	require.Len(testingT, messages, 1)
	require.Contains(testingT, messages[0].Subject, "Ana")
	require.Contains(testingT, messages[0].Text, "Hola")
	require.Equal(testingT, "ana@example.com", messages[0].ReplyTo)
	require.Equal(testingT, []string{testOwnerAddress}, messages[0].To)

	archived := harness.recorder.recorded()
	require.Len(testingT, archived, 1)
	require.True(testingT, archived[0].Delivered)
	require.Equal(testingT, testDeliveryID, archived[0].DeliveryID)
	require.Equal(testingT, "contact-test-agent", archived[0].UserAgent)
}

func TestSubmitContactAcceptsFromAlias(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)

	recorder := postContact(testingT, harness.router, `{"name":"Ana","from":"Ana@Example.com","message":"Hola"}`)
	harness.runner.Wait()

	require.Equal(testingT, http.StatusOK, recorder.Code)
	messages := harness.mailer.sent()
	require.Len(testingT, messages, 1)
	require.Equal(testingT, "Ana@Example.com", messages[0].ReplyTo)
}

func TestSubmitContactPassesSubmittedValuesThrough(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)

	recorder := postContact(testingT, harness.router, `{"name":"Ana","email":"Ana.Perez@Example.com","message":"  Hola\n"}`)
	harness.runner.Wait()

	require.Equal(testingT, http.StatusOK, recorder.Code)
	messages := harness.mailer.sent()
	require.Len(testingT, messages, 1)
	require.Equal(testingT, "Ana.Perez@Example.com", messages[0].ReplyTo)
	require.Equal(testingT, "From: Ana <Ana.Perez@Example.com>\n\n  Hola\n", messages[0].Text)

	archived := harness.recorder.recorded()
	require.Len(testingT, archived, 1)
	require.Equal(testingT, "Ana.Perez@Example.com", archived[0].Email)
	require.Equal(testingT, "ana.perez@example.com", archived[0].ArchiveRecord().Email)
	require.Equal(testingT, "Hola", archived[0].ArchiveRecord().Message)
}

func TestSubmitContactRejectsInvalidInput(testingT *testing.T) {
	testCases := []struct {
		name          string
		body          string
		expectedError string
		expectedField string
	}{
		{
			name:          "blank name",
			body:          `{"name":"","email":"ana@example.com","message":"Hola"}`,
			expectedError: model.ContactErrorCodeMissingFields,
			expectedField: model.ContactFieldName,
		},
		{
			name:          "whitespace message",
			body:          `{"name":"Ana","email":"ana@example.com","message":"   "}`,
			expectedError: model.ContactErrorCodeMissingFields,
			expectedField: model.ContactFieldMessage,
		},
		{
			name:          "missing email",
			body:          `{"name":"Ana","message":"Hola"}`,
			expectedError: model.ContactErrorCodeMissingFields,
			expectedField: model.ContactFieldEmail,
		},
		{
			name:          "malformed email",
			body:          `{"name":"Ana","email":"not-an-email","message":"Hola"}`,
			expectedError: model.ContactErrorCodeInvalidEmail,
			expectedField: model.ContactFieldEmail,
		},
		{
			name:          "oversized message",
			body:          `{"name":"Ana","email":"ana@example.com","message":"` + strings.Repeat("a", 5001) + `"}`,
			expectedError: model.ContactErrorCodeFieldTooLong,
			expectedField: model.ContactFieldMessage,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(subTest *testing.T) {
			harness := newContactHarness(subTest, nil, nil)

			recorder := postContact(subTest, harness.router, testCase.body)
			harness.runner.Wait()

			require.Equal(subTest, http.StatusBadRequest, recorder.Code)
			payload := decodeBody(subTest, recorder)
			require.Equal(subTest, testCase.expectedError, payload["error"])
			require.Equal(subTest, testCase.expectedField, payload["field"])
			require.Empty(subTest, harness.mailer.sent())
			require.Empty(subTest, harness.recorder.recorded())
		})
	}
}

func TestSubmitContactRejectsMalformedJSON(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)

	recorder := postContact(testingT, harness.router, `{"name":`)

	require.Equal(testingT, http.StatusBadRequest, recorder.Code)
	require.Equal(testingT, "invalid_json", decodeBody(testingT, recorder)["error"])
	require.Empty(testingT, harness.mailer.sent())
}

func TestSubmitContactRejectsOversizedBody(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)

	body := `{"name":"Ana","email":"ana@example.com","message":"` + strings.Repeat("a", httpapi.ContactRequestMaxBytes) + `"}`
	recorder := postContact(testingT, harness.router, body)
	harness.runner.Wait()

	require.Equal(testingT, http.StatusRequestEntityTooLarge, recorder.Code)
	require.Equal(testingT, "payload_too_large", decodeBody(testingT, recorder)["error"])
	require.Empty(testingT, harness.mailer.sent())
	require.Empty(testingT, harness.recorder.recorded())
}

func TestSubmitContactReportsSendFailure(testingT *testing.T) {
	harness := newContactHarness(testingT, errors.New("relay refused: 535 bad credentials"), nil)

	recorder := postContact(testingT, harness.router, `{"name":"Ana","email":"ana@example.com","message":"Hola"}`)
	harness.runner.Wait()

	require.Equal(testingT, http.StatusInternalServerError, recorder.Code)
	payload := decodeBody(testingT, recorder)
	require.Equal(testingT, "send_failed", payload["error"])
	require.NotContains(testingT, recorder.Body.String(), "535")

	fallback, isString := payload["fallback"].(string)
	require.True(testingT, isString)
	parsed, parseErr := url.Parse(fallback)
	require.NoError(testingT, parseErr)
	require.Equal(testingT, "mailto", parsed.Scheme)
	require.Equal(testingT, testOwnerAddress, parsed.Opaque)
	require.Contains(testingT, parsed.Query().Get("subject"), "Ana")
	require.Contains(testingT, parsed.Query().Get("body"), "Hola")

	archived := harness.recorder.recorded()
	require.Len(testingT, archived, 1)
	require.False(testingT, archived[0].Delivered)
	require.Equal(testingT, 1, harness.logs.FilterMessage("contact_delivery_failed").Len())
	errorLogs := 0
	for _, entry := range harness.logs.All() {
		if _, hasError := entry.ContextMap()["error"]; hasError {
			errorLogs++
		}
	}
	require.Equal(testingT, 1, errorLogs)
}

func TestSubmitContactIgnoresArchiveFailure(testingT *testing.T) {
	archiveErr := errors.New("archive offline")
	testCases := []struct {
		name           string
		sendErr        error
		expectedStatus int
	}{
		{name: "delivered", sendErr: nil, expectedStatus: http.StatusOK},
		{name: "send failed", sendErr: errors.New("relay down"), expectedStatus: http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(subTest *testing.T) {
			harness := newContactHarness(subTest, testCase.sendErr, archiveErr)

			recorder := postContact(subTest, harness.router, `{"name":"Ana","email":"ana@example.com","message":"Hola"}`)
			harness.runner.Wait()

			require.Equal(subTest, testCase.expectedStatus, recorder.Code)
			require.Len(subTest, harness.recorder.recorded(), 1)
			require.Equal(subTest, 1, harness.logs.FilterMessage(archiveFailedEvent).Len())
		})
	}
}

func TestSubmitContactWithoutNotifierFails(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &countingRecorder{}
	runner := task.NewDetachedRunner(zap.NewNop(), time.Second)
	handlers := httpapi.NewContactHandlers(nil, nil, recorder, runner, httpapi.ContactConfig{})
	router := gin.New()
	router.POST(contactPath, handlers.SubmitContact)

	response := postContact(testingT, router, `{"name":"Ana","email":"ana@example.com","message":"Hola"}`)
	runner.Wait()

	require.Equal(testingT, http.StatusInternalServerError, response.Code)
	payload := decodeBody(testingT, response)
	require.Equal(testingT, "send_failed", payload["error"])
	require.Equal(testingT, "", payload["fallback"])
	require.Len(testingT, recorder.recorded(), 1)
}

func TestSubmitContactAfterRunnerClosedStillResponds(testingT *testing.T) {
	harness := newContactHarness(testingT, nil, nil)
	require.NoError(testingT, harness.runner.Close(context.Background()))

	recorder := postContact(testingT, harness.router, `{"name":"Ana","email":"ana@example.com","message":"Hola"}`)

	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Empty(testingT, harness.recorder.recorded())
	require.Equal(testingT, 1, harness.logs.FilterMessage("contact_archive_skipped").Len())
}

func TestSubmitContactArchivesToSQLite(testingT *testing.T) {
	gin.SetMode(gin.TestMode)
	database := testutil.NewSQLiteTestDatabase(testingT).OpenMigrated(testingT)
	archive := storage.NewGormContactArchive(database)

	mailer := &recordingMailer{}
	notifier, notifierErr := notifications.NewContactNotifier(mailer, testOwnerAddress)
	require.NoError(testingT, notifierErr)
	runner := task.NewDetachedRunner(zap.NewNop(), time.Second)
	handlers := httpapi.NewContactHandlers(zap.NewNop(), notifier, archive, runner, httpapi.ContactConfig{Recipient: testOwnerAddress})
	router := gin.New()
	router.POST(contactPath, handlers.SubmitContact)

	response := postContact(testingT, router, `{"name":"Ana","email":"Ana@Example.com","message":" Hola\n"}`)
	runner.Wait()
	require.Equal(testingT, http.StatusOK, response.Code)
	require.Equal(testingT, "Ana@Example.com", mailer.sent()[0].ReplyTo)

	stored, listErr := archive.ListContacts(context.Background(), 10)
	require.NoError(testingT, listErr)
	require.Len(testingT, stored, 1)
	require.Equal(testingT, "Ana", stored[0].Name)
	require.Equal(testingT, "ana@example.com", stored[0].Email)
	require.Equal(testingT, "Hola", stored[0].Message)
	require.True(testingT, stored[0].Delivered)
}
