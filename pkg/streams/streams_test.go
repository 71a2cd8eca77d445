package streams

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordValues(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := &Record{
		MessageID: "msg-001",
		EventType: "unit.events",
		EventTime: &ts,
		Payload:   `{"unitNumber":"GBTU1234567"}`,
		Metadata:  `{"resend":"true"}`,
	}

	values := rec.Values()
	assert.Equal(t, "msg-001", values[FieldMessageID])
	assert.Equal(t, "unit.events", values[FieldEventType])
	assert.Equal(t, "2025-03-14T09:26:53Z", values[FieldEventTime])
	assert.Equal(t, `{"unitNumber":"GBTU1234567"}`, values[FieldPayload])
	assert.Equal(t, `{"resend":"true"}`, values[FieldMetadata])
}

func TestRecordValuesOmitsEmptyOptionals(t *testing.T) {
	rec := &Record{MessageID: "msg-002", EventType: "unit.events", Payload: "{}"}

	values := rec.Values()
	assert.NotContains(t, values, FieldEventTime)
	assert.NotContains(t, values, FieldMetadata)
}

func TestDecodeFieldsUnquotesValues(t *testing.T) {
	fields := DecodeFields(map[string]interface{}{
		FieldMessageID: "msg-003",
		FieldEventType: `"unit.events\nv2"`,
		FieldPayload:   `"{\"a\":1}"`, // quoted JSON object stays as stored
		"count":        int64(7),      // non-strings dropped
	})

	assert.Equal(t, "msg-003", fields[FieldMessageID])
	assert.Equal(t, "unit.events\nv2", fields[FieldEventType])
	assert.Equal(t, `"{\"a\":1}"`, fields[FieldPayload])
	assert.NotContains(t, fields, "count")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "acked", OutcomeAcked.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "rollback", OutcomeRollbackForRedelivery.String())
}

func TestResultConstructors(t *testing.T) {
	assert.Equal(t, OutcomeAcked, Acked().Outcome)
	assert.NoError(t, Acked().Err)

	boom := errors.New("bad payload")
	assert.Equal(t, OutcomeRejected, Rejected(boom).Outcome)
	assert.Equal(t, boom, Rejected(boom).Err)

	assert.Equal(t, OutcomeRollbackForRedelivery, Rollback(boom).Outcome)
	assert.Equal(t, boom, Rollback(boom).Err)
}

func TestPublisherStreamFor(t *testing.T) {
	p := NewPublisher(nil, map[string]string{
		"unit.events":          "stream:unit-events",
		"temperature.readings": "stream:temperature-readings",
	}, 0)

	stream, ok := p.StreamFor("unit.events")
	assert.True(t, ok)
	assert.Equal(t, "stream:unit-events", stream)

	_, ok = p.StreamFor("asset.unknown")
	assert.False(t, ok)
}
