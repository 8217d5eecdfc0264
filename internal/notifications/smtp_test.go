package notifications

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveSMTPSecurity(t *testing.T) {
	testCases := []struct {
		name     string
		security string
		port     int
		expected string
	}{
		{name: "auto on 465", security: "", port: 465, expected: SMTPSecurityImplicit},
		{name: "auto on 587", security: SMTPSecurityAuto, port: 587, expected: SMTPSecurityStartTLS},
		{name: "explicit implicit", security: " Implicit ", port: 2525, expected: SMTPSecurityImplicit},
		{name: "ssl alias", security: "ssl", port: 587, expected: SMTPSecurityImplicit},
		{name: "starttls", security: SMTPSecurityStartTLS, port: 465, expected: SMTPSecurityStartTLS},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			resolved, err := ResolveSMTPSecurity(testCase.security, testCase.port)
			require.NoError(t, err)
			require.Equal(t, testCase.expected, resolved)
		})
	}

	_, err := ResolveSMTPSecurity("carrier-pigeon", 25)
	require.ErrorIs(t, err, ErrUnsupportedSMTPSecurity)
}

func TestNewSMTPMailerAppliesDefaults(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{Host: " smtp.example.com ", Username: "relay@example.com"})
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com", mailer.configuration.Host)
	require.Equal(t, 465, mailer.configuration.Port)
	require.Equal(t, 15*time.Second, mailer.configuration.Timeout)
	require.Equal(t, "relay@example.com", mailer.configuration.FromAddress)
	require.Equal(t, SMTPSecurityImplicit, mailer.security)
}

func TestNewSMTPMailerResolvesSecurityForPort(t *testing.T) {
	testCases := []struct {
		name             string
		port             int
		security         string
		expectedPort     int
		expectedSecurity string
	}{
		{name: "default port is implicit", port: 0, security: "", expectedPort: 465, expectedSecurity: SMTPSecurityImplicit},
		{name: "submission port upgrades", port: 587, security: SMTPSecurityAuto, expectedPort: 587, expectedSecurity: SMTPSecurityStartTLS},
		{name: "forced implicit on 2525", port: 2525, security: SMTPSecurityImplicit, expectedPort: 2525, expectedSecurity: SMTPSecurityImplicit},
		{name: "forced starttls on 465", port: 465, security: SMTPSecurityStartTLS, expectedPort: 465, expectedSecurity: SMTPSecurityStartTLS},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			mailer, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: testCase.port, Security: testCase.security, FromAddress: "relay@example.com"})
			require.NoError(t, err)
			require.Equal(t, testCase.expectedPort, mailer.configuration.Port)
			require.Equal(t, testCase.expectedSecurity, mailer.security)
		})
	}
}

func TestNewSMTPMailerRejectsIncompleteConfiguration(t *testing.T) {
	_, hostErr := NewSMTPMailer(SMTPConfig{Username: "relay@example.com"})
	require.ErrorIs(t, hostErr, ErrMissingSMTPHost)

	_, senderErr := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"})
	require.ErrorIs(t, senderErr, ErrMissingSender)

	_, securityErr := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", FromAddress: "relay@example.com", Security: "bogus"})
	require.ErrorIs(t, securityErr, ErrUnsupportedSMTPSecurity)
}

func TestBuildSMTPMessageSetsHeaders(t *testing.T) {
	smtpMessage, err := buildSMTPMessage(Message{
		FromAddress: "relay@example.com",
		To:          []string{testOwnerAddress},
		ReplyTo:     testSubmitterEmail,
		Subject:     ContactSubject(testSubmitterName),
		Text:        ContactText(testSubmitterName, testSubmitterEmail, testSubmitterMessage),
		HTML:        "<p>Hola</p>",
	})
	require.NoError(t, err)
	require.NotEmpty(t, smtpMessage.GetMessageID())

	var rendered bytes.Buffer
	_, writeErr := smtpMessage.WriteTo(&rendered)
	require.NoError(t, writeErr)

	output := rendered.String()
	require.Contains(t, output, "Reply-To:")
	require.Contains(t, output, testSubmitterEmail)
	require.Contains(t, output, "Subject: Portfolio contact from Ana")
	require.Contains(t, output, "relay@example.com")
	require.Contains(t, output, "text/html")
}

func TestBuildSMTPMessageRequiresRecipient(t *testing.T) {
	_, err := buildSMTPMessage(Message{FromAddress: "relay@example.com"})
	require.ErrorIs(t, err, ErrMissingRecipient)
}

func TestSMTPMailerSendFailsAgainstUnreachableRelay(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{
		Host:        "127.0.0.1",
		Port:        1,
		Security:    SMTPSecurityStartTLS,
		FromAddress: "relay@example.com",
		Timeout:     time.Second,
	})
	require.NoError(t, err)

	deliveryID, sendErr := mailer.Send(context.Background(), Message{
		To:      []string{testOwnerAddress},
		Subject: "subject",
		Text:    "body",
	})
	require.Error(t, sendErr)
	require.Empty(t, deliveryID)
}
