package notifications

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const (
	// SMTPSecurityAuto uses implicit TLS on port 465 and STARTTLS everywhere else.
	SMTPSecurityAuto = "auto"
	// SMTPSecurityImplicit opens the connection with TLS.
	SMTPSecurityImplicit = "implicit"
	// SMTPSecurityStartTLS upgrades a plain connection with mandatory STARTTLS.
	SMTPSecurityStartTLS = "starttls"

	defaultSMTPPort    = 465
	implicitTLSPort    = 465
	defaultSMTPTimeout = 15 * time.Second
)

var (
	ErrMissingSMTPHost         = errors.New("notifications: missing smtp host")
	ErrUnsupportedSMTPSecurity = errors.New("notifications: unsupported smtp security mode")
)

// SMTPConfig captures connection settings for an SMTP relay.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Security    string
	FromAddress string
	FromName    string
	Timeout     time.Duration
	// TLSConfig overrides the client TLS settings, e.g. to trust a private relay CA.
	TLSConfig *tls.Config
}

// SMTPMailer delivers messages through an SMTP relay, one connection per message.
type SMTPMailer struct {
	configuration SMTPConfig
	security      string
}

// NewSMTPMailer validates the configuration and returns a mailer for it.
func NewSMTPMailer(configuration SMTPConfig) (*SMTPMailer, error) {
	configuration.Host = strings.TrimSpace(configuration.Host)
	if configuration.Host == "" {
		return nil, ErrMissingSMTPHost
	}
	if configuration.Port <= 0 {
		configuration.Port = defaultSMTPPort
	}
	if configuration.Timeout <= 0 {
		configuration.Timeout = defaultSMTPTimeout
	}
	configuration.FromAddress = strings.TrimSpace(configuration.FromAddress)
	if configuration.FromAddress == "" {
		configuration.FromAddress = strings.TrimSpace(configuration.Username)
	}
	if configuration.FromAddress == "" {
		return nil, ErrMissingSender
	}

	security, securityErr := ResolveSMTPSecurity(configuration.Security, configuration.Port)
	if securityErr != nil {
		return nil, securityErr
	}

	return &SMTPMailer{configuration: configuration, security: security}, nil
}

// ResolveSMTPSecurity maps a configured security mode onto implicit TLS or STARTTLS.
func ResolveSMTPSecurity(security string, port int) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(security))
	switch normalized {
	case "", SMTPSecurityAuto:
		if port == implicitTLSPort {
			return SMTPSecurityImplicit, nil
		}
		return SMTPSecurityStartTLS, nil
	case SMTPSecurityImplicit, "ssl", "tls":
		return SMTPSecurityImplicit, nil
	case SMTPSecurityStartTLS:
		return SMTPSecurityStartTLS, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSMTPSecurity, normalized)
	}
}

// Send delivers the message and returns the generated Message-ID.
func (mailer *SMTPMailer) Send(ctx context.Context, message Message) (string, error) {
	if mailer == nil {
		return "", ErrMailerNotConfigured
	}
	if strings.TrimSpace(message.FromAddress) == "" {
		message.FromAddress = mailer.configuration.FromAddress
	}
	if strings.TrimSpace(message.FromName) == "" {
		message.FromName = mailer.configuration.FromName
	}

	smtpMessage, buildErr := buildSMTPMessage(message)
	if buildErr != nil {
		return "", buildErr
	}

	client, clientErr := gomail.NewClient(mailer.configuration.Host, mailer.clientOptions()...)
	if clientErr != nil {
		return "", fmt.Errorf("notifications: smtp client: %w", clientErr)
	}

	if sendErr := client.DialAndSendWithContext(ctx, smtpMessage); sendErr != nil {
		return "", fmt.Errorf("notifications: smtp send: %w", sendErr)
	}

	return smtpMessage.GetMessageID(), nil
}

func (mailer *SMTPMailer) clientOptions() []gomail.Option {
	options := []gomail.Option{
		gomail.WithPort(mailer.configuration.Port),
		gomail.WithTimeout(mailer.configuration.Timeout),
	}
	if mailer.configuration.TLSConfig != nil {
		tlsConfig := mailer.configuration.TLSConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = mailer.configuration.Host
		}
		options = append(options, gomail.WithTLSConfig(tlsConfig))
	}
	if mailer.security == SMTPSecurityImplicit {
		options = append(options, gomail.WithSSL())
	} else {
		options = append(options, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if username := strings.TrimSpace(mailer.configuration.Username); username != "" {
		options = append(options,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(mailer.configuration.Password),
		)
	}
	return options
}

func buildSMTPMessage(message Message) (*gomail.Msg, error) {
	if validationErr := validateMessage(message); validationErr != nil {
		return nil, validationErr
	}

	smtpMessage := gomail.NewMsg()
	if fromErr := smtpMessage.FromFormat(senderName(message.FromName), strings.TrimSpace(message.FromAddress)); fromErr != nil {
		return nil, fmt.Errorf("notifications: smtp from: %w", fromErr)
	}
	if toErr := smtpMessage.To(message.To...); toErr != nil {
		return nil, fmt.Errorf("notifications: smtp to: %w", toErr)
	}
	if replyTo := strings.TrimSpace(message.ReplyTo); replyTo != "" {
		if replyErr := smtpMessage.ReplyTo(replyTo); replyErr != nil {
			return nil, fmt.Errorf("notifications: smtp reply-to: %w", replyErr)
		}
	}
	smtpMessage.Subject(message.Subject)
	smtpMessage.SetDate()
	smtpMessage.SetMessageID()
	smtpMessage.SetBodyString(gomail.TypeTextPlain, message.Text)
	if message.HTML != "" {
		smtpMessage.AddAlternativeString(gomail.TypeTextHTML, message.HTML)
	}
	return smtpMessage, nil
}
