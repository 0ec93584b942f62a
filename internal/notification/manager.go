package notification

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fireshakti/noc-engine/internal/config"
	"github.com/fireshakti/noc-engine/internal/database"
)

const (
	channelSMS     = "sms"
	channelEmail   = "email"
	channelConsole = "console"
)

// MetricsRecorder observes delivery outcomes per channel.
type MetricsRecorder interface {
	RecordNotification(channel, status string)
}

// DeliveryLog records notification delivery attempts for later redelivery.
type DeliveryLog interface {
	Record(ctx context.Context, entry *database.NotificationEntry) error
	MarkSent(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string, reason string) error
	ListFailed(ctx context.Context, maxRetries, limit int) ([]*database.NotificationEntry, error)
}

// Manager routes workflow notifications to SMS and email channels. SMS
// delivery walks the configured provider chain until one succeeds.
type Manager struct {
	config       config.NotificationsConfig
	logger       *slog.Logger
	smsChain     []SMSProvider
	email        EmailSender
	deliveryLog  DeliveryLog
	metrics      MetricsRecorder
	smsLimiter   *rate.Limiter
	emailLimiter *rate.Limiter
	templates    map[string]*template.Template
}

// NewManager creates a notification manager with the provider chain built
// from configuration. deliveryLog may be nil when no database is attached.
func NewManager(cfg config.NotificationsConfig, logger *slog.Logger, deliveryLog DeliveryLog) *Manager {
	m := &Manager{
		config:      cfg,
		logger:      logger,
		deliveryLog: deliveryLog,
		templates:   parseTemplates(),
	}

	if cfg.SMS.RateLimitPerMin > 0 {
		m.smsLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SMS.RateLimitPerMin)), cfg.SMS.RateLimitPerMin)
	}
	if cfg.Email.RateLimitPerMin > 0 {
		m.emailLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Email.RateLimitPerMin)), cfg.Email.RateLimitPerMin)
	}

	restyClient := resty.New().SetTimeout(cfg.SMS.Timeout)

	for _, name := range cfg.SMS.Providers {
		switch name {
		case "twilio":
			if cfg.SMS.Twilio.Enabled {
				m.smsChain = append(m.smsChain, NewTwilioClient(cfg.SMS.Twilio, logger))
			}
		case "msg91":
			if cfg.SMS.MSG91.Enabled {
				m.smsChain = append(m.smsChain, NewMSG91Client(cfg.SMS.MSG91, logger, restyClient))
			}
		case "fast2sms":
			if cfg.SMS.Fast2SMS.Enabled {
				m.smsChain = append(m.smsChain, NewFast2SMSClient(cfg.SMS.Fast2SMS, logger, restyClient))
			}
		case "textlocal":
			if cfg.SMS.TextLocal.Enabled {
				m.smsChain = append(m.smsChain, NewTextLocalClient(cfg.SMS.TextLocal, logger, restyClient))
			}
		default:
			logger.Warn("Unknown SMS provider in configuration", "provider", name)
		}
	}
	if cfg.SMS.FallbackToConsole {
		m.smsChain = append(m.smsChain, NewConsoleSMSClient(logger))
	}

	if cfg.Email.Enabled {
		switch cfg.Email.Provider {
		case "smtp":
			m.email = NewSMTPClient(cfg.Email, logger)
		default:
			m.email = NewSendGridClient(cfg.Email, logger)
		}
	}

	return m
}

// SetMetrics wires a metrics recorder after construction. May stay unset.
func (m *Manager) SetMetrics(metrics MetricsRecorder) {
	m.metrics = metrics
}

// Send renders the message for eventType and delivers it on the channel the
// recipient's shape selects: an address with "@" goes to email, a phone
// number to the SMS chain, anything else to the log.
func (m *Manager) Send(ctx context.Context, eventType, recipient string, data map[string]interface{}) error {
	message, err := m.render(eventType, data)
	if err != nil {
		return err
	}

	channel := resolveChannel(recipient)

	var sendErr error
	switch channel {
	case channelEmail:
		sendErr = m.sendEmail(ctx, recipient, subjectFor(eventType), message)
	case channelSMS:
		sendErr = m.sendSMS(ctx, recipient, message)
	default:
		m.logger.Info("Notification for internal channel",
			"event_type", eventType, "channel", recipient, "message", message)
	}

	m.record(ctx, eventType, recipient, channel, message, sendErr)
	m.recordMetric(channel, sendErr)

	if sendErr != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", channel, sendErr)
	}
	return nil
}

func (m *Manager) recordMetric(channel string, sendErr error) {
	if m.metrics == nil {
		return
	}
	status := "sent"
	if sendErr != nil {
		status = "failed"
	}
	m.metrics.RecordNotification(channel, status)
}

// sendSMS walks the provider chain until one delivery succeeds
func (m *Manager) sendSMS(ctx context.Context, phone, message string) error {
	if !m.config.SMS.Enabled && !m.config.SMS.FallbackToConsole {
		return fmt.Errorf("sms channel disabled")
	}
	if len(m.smsChain) == 0 {
		return fmt.Errorf("no sms providers configured")
	}

	if m.smsLimiter != nil {
		if err := m.smsLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("sms rate limit wait: %w", err)
		}
	}

	var lastErr error
	for _, provider := range m.smsChain {
		if err := provider.Send(ctx, phone, message); err != nil {
			m.logger.Warn("SMS provider failed, trying next",
				"provider", provider.Name(), "error", err)
			lastErr = err
			continue
		}
		m.logger.Info("SMS sent", "provider", provider.Name(), "to", phone)
		return nil
	}

	return fmt.Errorf("all sms providers failed: %w", lastErr)
}

func (m *Manager) sendEmail(ctx context.Context, to, subject, body string) error {
	if m.email == nil {
		return fmt.Errorf("email channel disabled")
	}

	if m.emailLimiter != nil {
		if err := m.emailLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("email rate limit wait: %w", err)
		}
	}

	return m.email.Send(ctx, to, subject, body)
}

// record writes the attempt to the delivery log, best effort
func (m *Manager) record(ctx context.Context, eventType, recipient, channel, message string, sendErr error) {
	if m.deliveryLog == nil {
		return
	}

	entry := &database.NotificationEntry{
		ID:        uuid.New().String(),
		EventType: eventType,
		Recipient: recipient,
		Channel:   channel,
		Message:   message,
		Status:    "sent",
		CreatedAt: time.Now(),
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sql.NullString{String: sendErr.Error(), Valid: true}
	} else {
		now := time.Now()
		entry.SentAt = &now
	}

	if err := m.deliveryLog.Record(ctx, entry); err != nil {
		m.logger.Error("Failed to record notification attempt", "error", err)
	}
}

// RedeliverFailed retries failed entries from the delivery log. Called by
// the scheduler.
func (m *Manager) RedeliverFailed(ctx context.Context, maxRetries, limit int) (int, error) {
	if m.deliveryLog == nil {
		return 0, nil
	}

	entries, err := m.deliveryLog.ListFailed(ctx, maxRetries, limit)
	if err != nil {
		return 0, err
	}

	redelivered := 0
	for _, entry := range entries {
		var sendErr error
		switch entry.Channel {
		case channelEmail:
			sendErr = m.sendEmail(ctx, entry.Recipient, subjectFor(entry.EventType), entry.Message)
		case channelSMS:
			sendErr = m.sendSMS(ctx, entry.Recipient, entry.Message)
		default:
			continue
		}

		m.recordMetric(entry.Channel, sendErr)
		if sendErr != nil {
			if err := m.deliveryLog.IncrementRetry(ctx, entry.ID, sendErr.Error()); err != nil {
				m.logger.Error("Failed to update retry count", "notification_id", entry.ID, "error", err)
			}
			continue
		}

		if err := m.deliveryLog.MarkSent(ctx, entry.ID); err != nil {
			m.logger.Error("Failed to mark notification sent", "notification_id", entry.ID, "error", err)
			continue
		}
		redelivered++
	}

	return redelivered, nil
}

func (m *Manager) render(eventType string, data map[string]interface{}) (string, error) {
	tmpl, ok := m.templates[eventType]
	if !ok {
		tmpl = m.templates["default"]
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render notification template for %s: %w", eventType, err)
	}
	return buf.String(), nil
}

func resolveChannel(recipient string) string {
	switch {
	case strings.Contains(recipient, "@"):
		return channelEmail
	case strings.HasPrefix(recipient, "+"), isDigits(recipient):
		return channelSMS
	default:
		return channelConsole
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func subjectFor(eventType string) string {
	if subject, ok := subjects[eventType]; ok {
		return subject
	}
	return "Fire NOC System Notification"
}

var subjects = map[string]string{
	"application_submitted":    "Fire NOC Application Received",
	"application_under_review": "Fire NOC Application Under Review",
	"inspector_assigned":       "Fire Safety Inspection Scheduled",
	"inspection_started":       "Fire Safety Inspection Started",
	"inspection_completed":     "Fire Safety Inspection Completed",
	"application_approved":     "Fire NOC Application Approved",
	"application_rejected":     "Fire NOC Application Update",
	"application_resubmitted":  "Fire NOC Application Resubmitted",
	"certificate_issued":       "Fire Safety NOC Certificate Issued",
	"otp":                      "Your Fire NOC System Verification Code",
}

func parseTemplates() map[string]*template.Template {
	sources := map[string]string{
		"application_submitted":    "Your Fire NOC application for {{.business_name}} has been received. Application ID: {{.application_id}}.",
		"application_under_review": "Your Fire NOC application {{.application_id}} is now under review.",
		"inspector_assigned":       "A fire safety inspection for {{.business_name}} has been scheduled for {{.scheduled_date}}. Application ID: {{.application_id}}.",
		"inspection_started":       "The fire safety inspection for application {{.application_id}} has started.",
		"inspection_completed":     "The fire safety inspection for application {{.application_id}} is complete. Compliance score: {{.compliance_score}}.",
		"application_approved":     "Congratulations! Your Fire NOC application {{.application_id}} for {{.business_name}} has been approved.",
		"application_rejected":     "Your Fire NOC application {{.application_id}} was not approved. Reason: {{.reason}}.",
		"application_resubmitted":  "Your Fire NOC application {{.application_id}} has been resubmitted for review.",
		"certificate_issued":       "Your Fire Safety NOC certificate {{.certificate_number}} for {{.business_name}} has been issued. Valid until {{.valid_until}}.",
		"otp":                      "{{.message}}",
		"default":                  "Fire NOC System update for application {{.application_id}}.",
	}

	templates := make(map[string]*template.Template, len(sources))
	for name, source := range sources {
		templates[name] = template.Must(template.New(name).Parse(source))
	}
	return templates
}
