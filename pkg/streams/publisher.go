package streams

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// Publisher writes raw events onto their mapped stream. Publishing is
// fire-and-forget: the raw event is already durable, so failures are logged
// and the operator can resend.
type Publisher struct {
	client  *redis.Client
	mapping map[string]string // event type (address) -> stream key
	maxLen  int64
}

// NewPublisher creates a publisher over the shared stream client
func NewPublisher(client *redis.Client, streamMapping map[string]string, maxLen int64) *Publisher {
	return &Publisher{client: client, mapping: streamMapping, maxLen: maxLen}
}

// StreamFor resolves the stream key for an event type; ok is false when the
// type has no mapping
func (p *Publisher) StreamFor(eventType string) (string, bool) {
	stream, ok := p.mapping[eventType]
	return stream, ok
}

// Publish writes the raw event to its mapped stream. Events without a
// mapping are skipped with a debug log.
func (p *Publisher) Publish(ctx context.Context, ev *store.RawEvent, metadata string) {
	stream, ok := p.StreamFor(ev.EventType)
	if !ok {
		logger.Debug("No stream mapping for event type %s, skipping publish", ev.EventType)
		return
	}

	rec := &Record{
		MessageID: ev.MessageID,
		EventType: ev.EventType,
		EventTime: ev.EventTime,
		Payload:   ev.Payload,
		Metadata:  metadata,
	}

	if err := p.append(ctx, stream, rec); err != nil {
		metrics.GetProvider().RecordStreamPublish(stream, "error")
		logger.Warn("Failed to publish event %s to stream %s: %v", ev.MessageID, stream, err)
		return
	}

	metrics.GetProvider().RecordStreamPublish(stream, "ok")
	logger.Debug("Published event %s to stream %s", ev.MessageID, stream)
}

func (p *Publisher) append(ctx context.Context, stream string, rec *Record) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: rec.Values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}
