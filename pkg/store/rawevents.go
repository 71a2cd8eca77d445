package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// EventFilter narrows raw-event queries for the control plane
type EventFilter struct {
	EventType string     `json:"event_type,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// RawEventRepository persists the gateway's recovery log
type RawEventRepository struct {
	db bun.IDB
}

// NewRawEventRepository creates a repository over the shared pool
func NewRawEventRepository(db bun.IDB) *RawEventRepository {
	return &RawEventRepository{db: db}
}

// Upsert inserts the raw event, overwriting everything but message_id on
// conflict. This is the only write path for raw events; it returns after the
// row is durable.
func (r *RawEventRepository) Upsert(ctx context.Context, ev *RawEvent) error {
	if ev.MessageID == "" {
		return fmt.Errorf("raw event upsert requires a message_id")
	}
	if ev.ProcessedAt.IsZero() {
		ev.ProcessedAt = time.Now().UTC()
	}

	_, err := r.db.NewInsert().
		Model(ev).
		On("CONFLICT (message_id) DO UPDATE").
		Set("event_type = EXCLUDED.event_type").
		Set("event_time = EXCLUDED.event_time").
		Set("payload = EXCLUDED.payload").
		Set("checksum = EXCLUDED.checksum").
		Set("processed_at = EXCLUDED.processed_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert raw event %s: %w", ev.MessageID, err)
	}
	return nil
}

func (r *RawEventRepository) applyFilter(q *bun.SelectQuery, f EventFilter) *bun.SelectQuery {
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.MessageID != "" {
		q = q.Where("message_id = ?", f.MessageID)
	}
	if f.From != nil {
		q = q.Where("processed_at >= ?", f.From)
	}
	if f.To != nil {
		q = q.Where("processed_at <= ?", f.To)
	}
	return q
}

// FindByFilter returns raw events matching the filter, newest first
func (r *RawEventRepository) FindByFilter(ctx context.Context, f EventFilter) ([]RawEvent, error) {
	var events []RawEvent
	q := r.applyFilter(r.db.NewSelect().Model(&events), f).
		Order("processed_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to query raw events: %w", err)
	}
	return events, nil
}

// CountByFilter counts raw events matching the filter
func (r *RawEventRepository) CountByFilter(ctx context.Context, f EventFilter) (int, error) {
	count, err := r.applyFilter(r.db.NewSelect().Model((*RawEvent)(nil)), f).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}
	return count, nil
}

// FindByIDs loads raw events by primary key, for resend
func (r *RawEventRepository) FindByIDs(ctx context.Context, ids []int64) ([]RawEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var events []RawEvent
	err := r.db.NewSelect().
		Model(&events).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw events by ids: %w", err)
	}
	return events, nil
}
