package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// SendLogRepository owns the email send-log lifecycle. Only the email sender
// writes here.
type SendLogRepository struct {
	db bun.IDB
}

// NewSendLogRepository creates a repository over the shared pool
func NewSendLogRepository(db bun.IDB) *SendLogRepository {
	return &SendLogRepository{db: db}
}

// Create inserts a new log row in PENDING and fills in its id
func (r *SendLogRepository) Create(ctx context.Context, log *EmailSendLog) error {
	now := time.Now().UTC()
	if log.Status == "" {
		log.Status = SendStatusPending
	}
	log.CreatedAt = now
	log.UpdatedAt = now

	if _, err := r.db.NewInsert().Model(log).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create send log: %w", err)
	}
	return nil
}

// MarkSent moves the log to SENT and records the SMTP message id
func (r *SendLogRepository) MarkSent(ctx context.Context, id int64, smtpMessageID string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*EmailSendLog)(nil)).
		Set("status = ?", SendStatusSent).
		Set("message_id = ?", smtpMessageID).
		Set("attempts = attempts + 1").
		Set("last_error = ?", "").
		Set("sent_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark send log %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed moves the log to FAILED with the error text
func (r *SendLogRepository) MarkFailed(ctx context.Context, id int64, sendErr error) error {
	return r.markError(ctx, id, SendStatusFailed, sendErr)
}

// MarkRetry moves the log to RETRY with the error text, leaving it eligible
// for the retry scan
func (r *SendLogRepository) MarkRetry(ctx context.Context, id int64, sendErr error) error {
	return r.markError(ctx, id, SendStatusRetry, sendErr)
}

// MarkSendFailure records a failed attempt, moving the log to RETRY while
// attempts stay below maxRetries and to FAILED once the ceiling is reached
func (r *SendLogRepository) MarkSendFailure(ctx context.Context, id int64, sendErr error, maxRetries int) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	_, err := r.db.NewUpdate().
		Model((*EmailSendLog)(nil)).
		Set("status = CASE WHEN attempts + 1 < ? THEN ? ELSE ? END",
			maxRetries, SendStatusRetry, SendStatusFailed).
		Set("attempts = attempts + 1").
		Set("last_error = ?", msg).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record send failure on log %d: %w", id, err)
	}
	return nil
}

func (r *SendLogRepository) markError(ctx context.Context, id int64, status string, sendErr error) error {
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	_, err := r.db.NewUpdate().
		Model((*EmailSendLog)(nil)).
		Set("status = ?", status).
		Set("attempts = attempts + 1").
		Set("last_error = ?", msg).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark send log %d %s: %w", id, status, err)
	}
	return nil
}

// FindByID loads a single log row
func (r *SendLogRepository) FindByID(ctx context.Context, id int64) (*EmailSendLog, error) {
	var log EmailSendLog
	err := r.db.NewSelect().Model(&log).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load send log %d: %w", id, err)
	}
	return &log, nil
}

// FindRetryable returns RETRY logs with fewer than maxRetries attempts,
// oldest first
func (r *SendLogRepository) FindRetryable(ctx context.Context, maxRetries int) ([]EmailSendLog, error) {
	var logs []EmailSendLog
	err := r.db.NewSelect().
		Model(&logs).
		Where("status = ?", SendStatusRetry).
		Where("attempts < ?", maxRetries).
		Order("updated_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query retryable send logs: %w", err)
	}
	return logs, nil
}
