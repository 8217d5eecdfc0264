package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/notifications"
	"github.com/MarkoPoloResearchLab/portfolio_contact/internal/storage"
)

const (
	commandUseName                = "server"
	commandShortDescription       = "Run the portfolio contact server"
	commandLongDescription        = "Launch the HTTP server that relays portfolio contact form submissions to the owner's mailbox"
	missingConfigurationMessage   = "missing required configuration"
	invalidConfigurationMessage   = "invalid configuration"
	loggerCreationErrorMessage    = "logger"
	logEventListening             = "listening"
	logEventShutdown              = "shutdown"
	logFieldAddress               = "addr"
	loggerContextServer           = "server"
	readHeaderTimeoutSeconds      = 5
	shutdownTimeoutSeconds        = 15
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
	environmentFileName           = ".env"

	flagNameApplicationAddress     = "app-addr"
	flagNameFrontendOrigin         = "frontend-origin"
	flagNameMailDriver             = "mail-driver"
	flagNameSMTPHost               = "smtp-host"
	flagNameSMTPPort               = "smtp-port"
	flagNameSMTPSecurity           = "smtp-security"
	flagNameSMTPSecure             = "smtp-secure"
	flagNameSMTPUsername           = "smtp-user"
	flagNameSMTPPassword           = "smtp-pass"
	flagNameResendAPIKey           = "resend-api-key"
	flagNameMailFrom               = "mail-from"
	flagNameContactTo              = "contact-to"
	flagNameDatabaseDriver         = "db-driver"
	flagNameDatabaseDataSourceName = "db-dsn"
	flagNameDatabaseName           = "db-name"
	flagNameAdminBearerToken       = "admin-bearer-token"

	flagUsageApplicationAddress     = "address for the HTTP server to listen on"
	flagUsageFrontendOrigin         = "comma-separated origins allowed to call the API"
	flagUsageMailDriver             = "mail relay: smtp or resend"
	flagUsageSMTPHost               = "SMTP relay host"
	flagUsageSMTPPort               = "SMTP relay port"
	flagUsageSMTPSecurity           = "SMTP transport security: auto, implicit, or starttls"
	flagUsageSMTPSecure             = "legacy switch: true selects implicit TLS, false selects STARTTLS"
	flagUsageSMTPUsername           = "SMTP username; also the default sender and recipient"
	flagUsageSMTPPassword           = "SMTP password"
	flagUsageResendAPIKey           = "Resend API key"
	flagUsageMailFrom               = "sender address for notifications"
	flagUsageContactTo              = "mailbox that receives contact notifications"
	flagUsageDatabaseDriver         = "archive driver: sqlite, postgres, or mongodb (inferred from the DSN when empty)"
	flagUsageDatabaseDataSourceName = "archive connection string; empty disables archiving"
	flagUsageDatabaseName           = "MongoDB database name"
	flagUsageAdminBearerToken       = "bearer token required for admin API access"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyPort               = "PORT"
	environmentKeyFrontendOrigin     = "FRONTEND_ORIGIN"
	environmentKeyMailDriver         = "MAIL_DRIVER"
	environmentKeySMTPHost           = "SMTP_HOST"
	environmentKeySMTPPort           = "SMTP_PORT"
	environmentKeySMTPSecurity       = "SMTP_SECURITY"
	environmentKeySMTPSecure         = "SMTP_SECURE"
	environmentKeySMTPUsername       = "SMTP_USER"
	environmentKeySMTPPassword       = "SMTP_PASS"
	environmentKeyResendAPIKey       = "RESEND_API_KEY"
	environmentKeyMailFrom           = "MAIL_FROM"
	environmentKeyContactTo          = "CONTACT_TO"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDataSource = "DB_DSN"
	environmentKeyMongoURI           = "MONGO_URI"
	environmentKeyDatabaseName       = "DB_NAME"
	environmentKeyAdminBearerToken   = "ADMIN_BEARER_TOKEN"

	defaultApplicationAddress = ":4000"
	defaultFrontendOrigin     = "http://localhost:3000"
	defaultSMTPPort           = 465
	defaultDatabaseName       = "portfolio"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress string
	FrontendOrigins    []string
	Mail               notifications.MailerConfig
	ContactRecipient   string
	Archive            storage.ArchiveConfig
	AdminBearerToken   string
}

// ArchiveOpener opens the contact archive for the configured backend.
type ArchiveOpener func(context.Context, storage.ArchiveConfig) (storage.ContactArchive, error)

// MailerFactory builds the relay used for owner notifications.
type MailerFactory func(notifications.MailerConfig) (notifications.Mailer, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	archiveOpener       ArchiveOpener
	mailerFactory       MailerFactory
}

type environmentBinding struct {
	environmentKey string
	flagName       string
}

var environmentBindings = []environmentBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress},
	{environmentKey: environmentKeyFrontendOrigin, flagName: flagNameFrontendOrigin},
	{environmentKey: environmentKeyMailDriver, flagName: flagNameMailDriver},
	{environmentKey: environmentKeySMTPHost, flagName: flagNameSMTPHost},
	{environmentKey: environmentKeySMTPPort, flagName: flagNameSMTPPort},
	{environmentKey: environmentKeySMTPSecurity, flagName: flagNameSMTPSecurity},
	{environmentKey: environmentKeySMTPSecure, flagName: flagNameSMTPSecure},
	{environmentKey: environmentKeySMTPUsername, flagName: flagNameSMTPUsername},
	{environmentKey: environmentKeySMTPPassword, flagName: flagNameSMTPPassword},
	{environmentKey: environmentKeyResendAPIKey, flagName: flagNameResendAPIKey},
	{environmentKey: environmentKeyMailFrom, flagName: flagNameMailFrom},
	{environmentKey: environmentKeyContactTo, flagName: flagNameContactTo},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriver},
	{environmentKey: environmentKeyDatabaseDataSource, flagName: flagNameDatabaseDataSourceName},
	{environmentKey: environmentKeyDatabaseName, flagName: flagNameDatabaseName},
	{environmentKey: environmentKeyAdminBearerToken, flagName: flagNameAdminBearerToken},
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		archiveOpener:       storage.OpenContactArchive,
		mailerFactory:       notifications.NewMailer,
	}
}

// WithArchiveOpener overrides the archive opener dependency.
func (application *ServerApplication) WithArchiveOpener(archiveOpener ArchiveOpener) *ServerApplication {
	application.archiveOpener = archiveOpener
	return application
}

// WithMailerFactory overrides the mailer construction dependency.
func (application *ServerApplication) WithMailerFactory(mailerFactory MailerFactory) *ServerApplication {
	application.mailerFactory = mailerFactory
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyApplicationAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyFrontendOrigin, defaultFrontendOrigin)
	application.configurationLoader.SetDefault(environmentKeyMailDriver, notifications.MailDriverSMTP)
	application.configurationLoader.SetDefault(environmentKeySMTPPort, defaultSMTPPort)
	application.configurationLoader.SetDefault(environmentKeySMTPSecurity, notifications.SMTPSecurityAuto)
	application.configurationLoader.SetDefault(environmentKeyDatabaseName, defaultDatabaseName)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress)
	commandFlags.String(flagNameFrontendOrigin, defaultFrontendOrigin, flagUsageFrontendOrigin)
	commandFlags.String(flagNameMailDriver, notifications.MailDriverSMTP, flagUsageMailDriver)
	commandFlags.String(flagNameSMTPHost, "", flagUsageSMTPHost)
	commandFlags.Int(flagNameSMTPPort, defaultSMTPPort, flagUsageSMTPPort)
	commandFlags.String(flagNameSMTPSecurity, notifications.SMTPSecurityAuto, flagUsageSMTPSecurity)
	commandFlags.String(flagNameSMTPSecure, "", flagUsageSMTPSecure)
	commandFlags.String(flagNameSMTPUsername, "", flagUsageSMTPUsername)
	commandFlags.String(flagNameSMTPPassword, "", flagUsageSMTPPassword)
	commandFlags.String(flagNameResendAPIKey, "", flagUsageResendAPIKey)
	commandFlags.String(flagNameMailFrom, "", flagUsageMailFrom)
	commandFlags.String(flagNameContactTo, "", flagUsageContactTo)
	commandFlags.String(flagNameDatabaseDriver, "", flagUsageDatabaseDriver)
	commandFlags.String(flagNameDatabaseDataSourceName, "", flagUsageDatabaseDataSourceName)
	commandFlags.String(flagNameDatabaseName, defaultDatabaseName, flagUsageDatabaseName)
	commandFlags.String(flagNameAdminBearerToken, "", flagUsageAdminBearerToken)

	for _, binding := range environmentBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range environmentBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configurationErr := application.loadServerConfig(command.Flags())
	if configurationErr != nil {
		return configurationErr
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runtime, runtimeErr := application.buildRuntime(signalContext, serverConfig, logger)
	if runtimeErr != nil {
		return runtimeErr
	}
	command.SilenceUsage = true

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           runtime.handler,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
		serveErrors <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case serveErr = <-serveErrors:
	case <-signalContext.Done():
		logger.Info(logEventShutdown)
	}

	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancelShutdown()
	if shutdownErr := httpServer.Shutdown(shutdownContext); shutdownErr != nil {
		logger.Warn("server_shutdown_failed", zap.Error(shutdownErr))
	}
	runtime.close(shutdownContext)

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error(loggerContextServer, zap.Error(serveErr))
		return serveErr
	}
	return nil
}

func (application *ServerApplication) loadServerConfig(flagSet *pflag.FlagSet) (ServerConfig, error) {
	loader := application.configurationLoader

	applicationAddress := strings.TrimSpace(loader.GetString(environmentKeyApplicationAddress))
	if !flagSet.Changed(flagNameApplicationAddress) {
		if port, portFound := os.LookupEnv(environmentKeyPort); portFound && strings.TrimSpace(port) != "" {
			applicationAddress = ":" + strings.TrimSpace(port)
		}
	}

	smtpSecurity, securityErr := resolveSMTPSecurity(loader.GetString(environmentKeySMTPSecurity), loader.GetString(environmentKeySMTPSecure))
	if securityErr != nil {
		return ServerConfig{}, securityErr
	}

	frontendOrigins := splitOrigins(loader.GetString(environmentKeyFrontendOrigin))
	if originErr := validateOrigins(frontendOrigins); originErr != nil {
		return ServerConfig{}, originErr
	}

	smtpUsername := strings.TrimSpace(loader.GetString(environmentKeySMTPUsername))
	mailFrom := firstNonEmpty(loader.GetString(environmentKeyMailFrom), smtpUsername)
	contactRecipient := firstNonEmpty(loader.GetString(environmentKeyContactTo), smtpUsername)
	dataSourceName := firstNonEmpty(loader.GetString(environmentKeyDatabaseDataSource), loader.GetString(environmentKeyMongoURI))

	return ServerConfig{
		ApplicationAddress: applicationAddress,
		FrontendOrigins:    frontendOrigins,
		Mail: notifications.MailerConfig{
			Driver: strings.ToLower(strings.TrimSpace(loader.GetString(environmentKeyMailDriver))),
			SMTP: notifications.SMTPConfig{
				Host:        strings.TrimSpace(loader.GetString(environmentKeySMTPHost)),
				Port:        loader.GetInt(environmentKeySMTPPort),
				Username:    smtpUsername,
				Password:    loader.GetString(environmentKeySMTPPassword),
				Security:    smtpSecurity,
				FromAddress: mailFrom,
			},
			Resend: notifications.ResendConfig{
				APIKey:      strings.TrimSpace(loader.GetString(environmentKeyResendAPIKey)),
				FromAddress: mailFrom,
			},
		},
		ContactRecipient: contactRecipient,
		Archive: storage.ArchiveConfig{
			DriverName:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
			DataSourceName: dataSourceName,
			DatabaseName:   strings.TrimSpace(loader.GetString(environmentKeyDatabaseName)),
		},
		AdminBearerToken: strings.TrimSpace(loader.GetString(environmentKeyAdminBearerToken)),
	}, nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	switch configuration.Mail.Driver {
	case "", notifications.MailDriverSMTP:
		if configuration.Mail.SMTP.Host == "" {
			missingParameters = append(missingParameters, flagNameSMTPHost)
		}
	case notifications.MailDriverResend:
		if configuration.Mail.Resend.APIKey == "" {
			missingParameters = append(missingParameters, flagNameResendAPIKey)
		}
	default:
		return fmt.Errorf("%s: %s %q", invalidConfigurationMessage, flagNameMailDriver, configuration.Mail.Driver)
	}

	if configuration.Mail.SMTP.FromAddress == "" {
		missingParameters = append(missingParameters, flagNameMailFrom)
	}

	if configuration.ContactRecipient == "" {
		missingParameters = append(missingParameters, flagNameContactTo)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

// The legacy boolean only applies when no explicit mode was chosen.
func resolveSMTPSecurity(security string, legacySecure string) (string, error) {
	normalizedSecurity := strings.ToLower(strings.TrimSpace(security))
	trimmedLegacy := strings.TrimSpace(legacySecure)
	if trimmedLegacy == "" || (normalizedSecurity != "" && normalizedSecurity != notifications.SMTPSecurityAuto) {
		return normalizedSecurity, nil
	}
	secure, parseErr := strconv.ParseBool(trimmedLegacy)
	if parseErr != nil {
		return "", fmt.Errorf("%s: %s %q", invalidConfigurationMessage, flagNameSMTPSecure, legacySecure)
	}
	if secure {
		return notifications.SMTPSecurityImplicit, nil
	}
	return notifications.SMTPSecurityStartTLS, nil
}

func splitOrigins(rawOrigins string) []string {
	var origins []string
	for _, origin := range strings.Split(rawOrigins, ",") {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{defaultFrontendOrigin}
	}
	return origins
}

// validateOrigins rejects origins that the CORS middleware would refuse at construction time.
func validateOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == corsOriginWildcard {
			continue
		}
		parsed, parseErr := url.Parse(origin)
		if parseErr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" || parsed.Path != "" {
			return fmt.Errorf("%s: %s %q", invalidConfigurationMessage, flagNameFrontendOrigin, origin)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// loadEnvironmentFile populates unset variables from a dotenv file when one exists.
func loadEnvironmentFile(path string) error {
	loadErr := godotenv.Load(path)
	if loadErr == nil || errors.Is(loadErr, os.ErrNotExist) {
		return nil
	}
	return loadErr
}

func main() {
	if environmentErr := loadEnvironmentFile(environmentFileName); environmentErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", environmentConfigurationError, environmentErr)
		os.Exit(1)
	}

	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
