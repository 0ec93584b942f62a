package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationEntry is one delivery attempt in the notification log.
type NotificationEntry struct {
	ID         string         `db:"id" json:"id"`
	EventType  string         `db:"event_type" json:"event_type"`
	Recipient  string         `db:"recipient" json:"recipient"`
	Channel    string         `db:"channel" json:"channel"`
	Message    string         `db:"message" json:"message"`
	Status     string         `db:"status" json:"status"` // sent, failed
	Error      sql.NullString `db:"error" json:"-"`
	RetryCount int            `db:"retry_count" json:"retry_count"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	SentAt     *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
}

// NotificationRepository handles the notification delivery log
type NotificationRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlx.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Record inserts a delivery attempt
func (r *NotificationRepository) Record(ctx context.Context, entry *NotificationEntry) error {
	query := `
		INSERT INTO notification_log (
			id, event_type, recipient, channel, message, status, error,
			retry_count, created_at, sent_at
		) VALUES (
			:id, :event_type, :recipient, :channel, :message, :status, :error,
			:retry_count, :created_at, :sent_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		r.logger.Error("Failed to record notification", "event_type", entry.EventType, "error", err)
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// MarkSent updates a failed entry after a successful redelivery
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_log SET status = 'sent', sent_at = $1, retry_count = retry_count + 1 WHERE id = $2`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter on a failed entry
func (r *NotificationRepository) IncrementRetry(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_log SET retry_count = retry_count + 1, error = $1 WHERE id = $2`,
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to increment notification retry: %w", err)
	}
	return nil
}

// ListFailed retrieves failed entries still within the retry budget
func (r *NotificationRepository) ListFailed(ctx context.Context, maxRetries, limit int) ([]*NotificationEntry, error) {
	var entries []*NotificationEntry
	err := r.db.SelectContext(ctx, &entries,
		`SELECT * FROM notification_log WHERE status = 'failed' AND retry_count < $1 ORDER BY created_at ASC LIMIT $2`,
		maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed notifications: %w", err)
	}
	return entries, nil
}
