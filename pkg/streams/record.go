// Package streams bridges the raw-event flow onto the Redis stream store:
// the gateway-side publisher and the consumer-group orchestrator that feeds
// registered processors.
package streams

import (
	"time"

	"github.com/tfplatform/eventfabric/pkg/payload"
)

// Field names of a stream record
const (
	FieldMessageID = "message_id"
	FieldEventType = "event_type"
	FieldEventTime = "event_time"
	FieldPayload   = "payload"
	FieldMetadata  = "metadata"
)

// Record is the flat field mapping written to a named stream
type Record struct {
	MessageID string
	EventType string
	EventTime *time.Time
	Payload   string
	// Metadata is an optional JSON object; {"resend":"true"} marks a
	// re-injection
	Metadata string
}

// Values renders the record as XADD field values
func (r *Record) Values() map[string]interface{} {
	values := map[string]interface{}{
		FieldMessageID: r.MessageID,
		FieldEventType: r.EventType,
		FieldPayload:   r.Payload,
	}
	if r.EventTime != nil {
		values[FieldEventTime] = r.EventTime.UTC().Format(time.RFC3339)
	}
	if r.Metadata != "" {
		values[FieldMetadata] = r.Metadata
	}
	return values
}

// DecodeFields converts raw XREADGROUP values into string fields, applying
// the unquoting rule to every value
func DecodeFields(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		fields[k] = payload.Unquote(s)
	}
	return fields
}
