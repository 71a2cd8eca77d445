package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// maxErrorMessageLen bounds the stored error text
const maxErrorMessageLen = 4000

// ErrorIngestionRepository tracks processor failures per message
type ErrorIngestionRepository struct {
	db bun.IDB
}

// NewErrorIngestionRepository creates a repository over the shared pool
func NewErrorIngestionRepository(db bun.IDB) *ErrorIngestionRepository {
	return &ErrorIngestionRepository{db: db}
}

// Record writes an error row for the message, truncating the error text
func (r *ErrorIngestionRepository) Record(ctx context.Context, messageID string, procErr error) error {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}

	row := &ErrorIngestion{
		MessageID:     messageID,
		IngestionTime: time.Now().UTC(),
		ErrorMessage:  msg,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record ingestion error for %s: %w", messageID, err)
	}
	return nil
}

// ClearByMessageID removes every error row for the message, returning the
// number of rows deleted
func (r *ErrorIngestionRepository) ClearByMessageID(ctx context.Context, messageID string) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*ErrorIngestion)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to clear ingestion errors for %s: %w", messageID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FindByMessageID returns the error rows for a message, oldest first
func (r *ErrorIngestionRepository) FindByMessageID(ctx context.Context, messageID string) ([]ErrorIngestion, error) {
	var rows []ErrorIngestion
	err := r.db.NewSelect().
		Model(&rows).
		Where("message_id = ?", messageID).
		Order("ingestion_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion errors for %s: %w", messageID, err)
	}
	return rows, nil
}
