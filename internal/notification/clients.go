package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/fireshakti/noc-engine/internal/config"
)

// SMSProvider sends a text message to a phone number. Providers are chained
// by the Manager and tried in configured order.
type SMSProvider interface {
	Name() string
	Send(ctx context.Context, phone, message string) error
}

// EmailSender delivers an email message.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TwilioClient sends SMS through the Twilio Messaging API
type TwilioClient struct {
	config config.TwilioConfig
	logger *slog.Logger
	client *twilio.RestClient
}

// NewTwilioClient creates a new Twilio SMS client
func NewTwilioClient(config config.TwilioConfig, logger *slog.Logger) *TwilioClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &TwilioClient{
		config: config,
		logger: logger,
		client: client,
	}
}

func (t *TwilioClient) Name() string { return "twilio" }

// Send sends an SMS via Twilio
func (t *TwilioClient) Send(_ context.Context, phone, message string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(t.config.FromNumber)
	params.SetBody(message)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	t.logger.Debug("Twilio SMS sent", "to", phone, "message_sid", sid)
	return nil
}

// MSG91Client sends SMS through the MSG91 HTTP API. MSG91 expects 10-digit
// Indian numbers without the country code.
type MSG91Client struct {
	config config.MSG91Config
	logger *slog.Logger
	client *resty.Client
}

// NewMSG91Client creates a new MSG91 SMS client
func NewMSG91Client(config config.MSG91Config, logger *slog.Logger, client *resty.Client) *MSG91Client {
	return &MSG91Client{config: config, logger: logger, client: client}
}

func (m *MSG91Client) Name() string { return "msg91" }

// Send sends an SMS via MSG91
func (m *MSG91Client) Send(ctx context.Context, phone, message string) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"authkey": m.config.AuthKey,
			"mobiles": stripIndianCountryCode(phone),
			"message": message,
			"sender":  m.config.SenderID,
			"route":   m.config.Route,
		}).
		Post("https://api.msg91.com/api/sendhttp.php")
	if err != nil {
		return fmt.Errorf("msg91 send failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("msg91 returned status %d: %s", resp.StatusCode(), resp.String())
	}

	m.logger.Debug("MSG91 SMS sent", "to", phone)
	return nil
}

// Fast2SMSClient sends SMS through the Fast2SMS bulk API
type Fast2SMSClient struct {
	config config.Fast2SMSConfig
	logger *slog.Logger
	client *resty.Client
}

// NewFast2SMSClient creates a new Fast2SMS client
func NewFast2SMSClient(config config.Fast2SMSConfig, logger *slog.Logger, client *resty.Client) *Fast2SMSClient {
	return &Fast2SMSClient{config: config, logger: logger, client: client}
}

func (f *Fast2SMSClient) Name() string { return "fast2sms" }

// Send sends an SMS via Fast2SMS
func (f *Fast2SMSClient) Send(ctx context.Context, phone, message string) error {
	var result struct {
		Return  bool   `json:"return"`
		Message string `json:"message"`
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("authorization", f.config.APIKey).
		SetFormData(map[string]string{
			"sender_id": f.config.SenderID,
			"message":   message,
			"route":     "q",
			"numbers":   stripIndianCountryCode(phone),
		}).
		SetResult(&result).
		Post("https://www.fast2sms.com/dev/bulkV2")
	if err != nil {
		return fmt.Errorf("fast2sms send failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("fast2sms returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Return {
		return fmt.Errorf("fast2sms rejected message: %s", result.Message)
	}

	f.logger.Debug("Fast2SMS SMS sent", "to", phone)
	return nil
}

// TextLocalClient sends SMS through the TextLocal API
type TextLocalClient struct {
	config config.TextLocalConfig
	logger *slog.Logger
	client *resty.Client
}

// NewTextLocalClient creates a new TextLocal client
func NewTextLocalClient(config config.TextLocalConfig, logger *slog.Logger, client *resty.Client) *TextLocalClient {
	return &TextLocalClient{config: config, logger: logger, client: client}
}

func (t *TextLocalClient) Name() string { return "textlocal" }

// Send sends an SMS via TextLocal
func (t *TextLocalClient) Send(ctx context.Context, phone, message string) error {
	var result struct {
		Status string `json:"status"`
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"apikey":  t.config.APIKey,
			"numbers": stripIndianCountryCode(phone),
			"message": message,
			"sender":  t.config.Sender,
		}).
		SetResult(&result).
		Post("https://api.textlocal.in/send/")
	if err != nil {
		return fmt.Errorf("textlocal send failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("textlocal returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Status != "success" {
		return fmt.Errorf("textlocal rejected message: status %s", result.Status)
	}

	t.logger.Debug("TextLocal SMS sent", "to", phone)
	return nil
}

// ConsoleSMSClient writes the message to the log instead of sending it.
// Used as the terminal fallback in development environments.
type ConsoleSMSClient struct {
	logger *slog.Logger
}

// NewConsoleSMSClient creates a console SMS fallback
func NewConsoleSMSClient(logger *slog.Logger) *ConsoleSMSClient {
	return &ConsoleSMSClient{logger: logger}
}

func (c *ConsoleSMSClient) Name() string { return "console" }

// Send logs the message instead of delivering it
func (c *ConsoleSMSClient) Send(_ context.Context, phone, message string) error {
	c.logger.Info("Console SMS fallback", "to", phone, "message", message)
	return nil
}

// SendGridClient delivers email through the SendGrid API
type SendGridClient struct {
	config config.EmailConfig
	logger *slog.Logger
	client *sendgrid.Client
}

// NewSendGridClient creates a new SendGrid email client
func NewSendGridClient(config config.EmailConfig, logger *slog.Logger) *SendGridClient {
	return &SendGridClient{
		config: config,
		logger: logger,
		client: sendgrid.NewSendClient(config.SendGridAPIKey),
	}
}

// Send sends an email via SendGrid
func (s *SendGridClient) Send(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail(s.config.FromName, s.config.FromAddress)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, body, body)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	s.logger.Debug("SendGrid email sent", "to", to, "subject", subject)
	return nil
}

// SMTPClient delivers email through a plain SMTP relay
type SMTPClient struct {
	config config.EmailConfig
	logger *slog.Logger
}

// NewSMTPClient creates a new SMTP email client
func NewSMTPClient(config config.EmailConfig, logger *slog.Logger) *SMTPClient {
	return &SMTPClient{config: config, logger: logger}
}

// Send sends an email via SMTP
func (s *SMTPClient) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	var auth smtp.Auth
	if s.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.config.SMTPUsername, s.config.SMTPPassword, s.config.SMTPHost)
	}

	msg := strings.Join([]string{
		"From: " + s.config.FromName + " <" + s.config.FromAddress + ">",
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(addr, auth, s.config.FromAddress, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	s.logger.Debug("SMTP email sent", "to", to, "subject", subject)
	return nil
}

// stripIndianCountryCode trims the +91/91 prefix; the Indian aggregator APIs
// expect bare 10-digit numbers.
func stripIndianCountryCode(phone string) string {
	switch {
	case strings.HasPrefix(phone, "+91") && len(phone) == 13:
		return phone[3:]
	case strings.HasPrefix(phone, "91") && len(phone) == 12:
		return phone[2:]
	default:
		return strings.TrimPrefix(phone, "+")
	}
}
