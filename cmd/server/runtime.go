package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/httpapi"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/notifications"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/storage"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/task"
)

const (
	errorMessageBuildMailer   = "build mailer"
	errorMessageBuildNotifier = "build notifier"
	errorMessageOpenArchive   = "open archive"
)

type serverRuntime struct {
	handler http.Handler
	runner  *task.DetachedRunner
	archive storage.ContactArchive
	logger  *zap.Logger
}

// buildRuntime wires the mailer, archive, and handlers. A missing archive DSN leaves archiving
// disabled; any other archive failure aborts startup.
func (application *ServerApplication) buildRuntime(ctx context.Context, configuration ServerConfig, logger *zap.Logger) (*serverRuntime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mailer, mailerErr := application.mailerFactory(configuration.Mail)
	if mailerErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageBuildMailer, mailerErr)
	}
	notifier, notifierErr := notifications.NewContactNotifier(mailer, configuration.ContactRecipient)
	if notifierErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageBuildNotifier, notifierErr)
	}

	archive, archiveErr := application.archiveOpener(ctx, configuration.Archive)
	switch {
	case errors.Is(archiveErr, storage.ErrArchiveDisabled):
		logger.Warn("contact_archive_disabled")
		archive = nil
	case archiveErr != nil:
		return nil, fmt.Errorf("%s: %w", errorMessageOpenArchive, archiveErr)
	}

	runner := task.NewDetachedRunner(logger, 0)

	var recorder httpapi.ContactRecorder
	var lister httpapi.ContactLister
	if archive != nil {
		recorder = archive
		lister = archive
	}

	contactHandlers := httpapi.NewContactHandlers(logger, notifier, recorder, runner, httpapi.ContactConfig{
		Recipient: configuration.ContactRecipient,
	})
	adminHandlers := httpapi.NewAdminHandlers(logger, lister)

	router := newRouter(logger, configuration.FrontendOrigins)
	registerRoutes(router, contactHandlers, adminHandlers, configuration.AdminBearerToken)

	return &serverRuntime{handler: router, runner: runner, archive: archive, logger: logger}, nil
}

// close drains pending archive writes before releasing the archive.
func (runtime *serverRuntime) close(ctx context.Context) {
	if runtime == nil {
		return
	}
	if closeErr := runtime.runner.Close(ctx); closeErr != nil {
		runtime.logger.Warn("detached_runner_close_failed", zap.Error(closeErr))
	}
	if runtime.archive != nil {
		if closeErr := runtime.archive.Close(); closeErr != nil {
			runtime.logger.Warn("contact_archive_close_failed", zap.Error(closeErr))
		}
	}
}
