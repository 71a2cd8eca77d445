// Package ingester holds the processor framework and the concrete stream
// processors that project raw events into typed tables. The framework runs a
// fixed pipeline (dedup, resend handling, parse, build, enrich, save) and the
// concrete processors plug in only the table-specific parts.
package ingester

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/enrichment"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/payload"
	"github.com/tfplatform/eventfabric/pkg/store"
	"github.com/tfplatform/eventfabric/pkg/streams"
)

// ErrPayload marks a data problem in the message itself (missing required
// id, malformed structure). The record is acknowledged; redelivery would not
// help.
var ErrPayload = errors.New("payload error")

// Handler is the table-specific surface of a processor. The Runner drives it
// through the fixed pipeline.
type Handler interface {
	// ProcessorName identifies the processor in logs and metrics
	ProcessorName() string

	// ExistsByMessageID reports whether a typed row exists for the message
	ExistsByMessageID(ctx context.Context, db bun.IDB, messageID string) (bool, error)

	// DeleteByMessageID removes the typed rows for a message ahead of a
	// resend. Composite processors delete child rows first.
	DeleteByMessageID(ctx context.Context, db bun.IDB, messageID string) (int64, error)

	// BuildModels turns one payload into the ordered rows to persist
	BuildModels(messageID, eventType, payloadJSON string) ([]interface{}, error)

	// UnitNumberFromPayload extracts the identifier used for the catalogue
	// lookup; empty skips enrichment
	UnitNumberFromPayload(payloadJSON string) string

	// UnitTypeCodeFromPayload extracts or derives the catalogue type code
	UnitTypeCodeFromPayload(payloadJSON string) string
}

// DefaultUnitFields supplies the standard enrichment hooks reading the
// unitNumber and unitTypeCode payload fields. Embed and override as needed.
type DefaultUnitFields struct{}

func (DefaultUnitFields) UnitNumberFromPayload(payloadJSON string) string {
	return payload.GetString(payloadJSON, "unitNumber")
}

func (DefaultUnitFields) UnitTypeCodeFromPayload(payloadJSON string) string {
	return payload.GetString(payloadJSON, "unitTypeCode")
}

// Enricher resolves unit identifiers against the catalogue
type Enricher interface {
	Lookup(ctx context.Context, identifier, typeCode string) enrichment.Lookup
}

type enrichable interface {
	SetEnrichment(containerNumber *string, idTrailer, idVehicle *int64)
}

// Runner adapts a Handler into a streams.Processor by wrapping it in the
// shared pipeline
type Runner struct {
	stream   string
	group    string
	handler  Handler
	db       bun.IDB
	enricher Enricher
	errors   *store.ErrorIngestionRepository
}

// NewRunner wires a handler to its stream and consumer group. The enricher
// and error repository are optional.
func NewRunner(stream, group string, handler Handler, db bun.IDB, enricher Enricher, errors *store.ErrorIngestionRepository) *Runner {
	return &Runner{
		stream:   stream,
		group:    group,
		handler:  handler,
		db:       db,
		enricher: enricher,
		errors:   errors,
	}
}

func (r *Runner) StreamKey() string     { return r.stream }
func (r *Runner) ConsumerGroup() string { return r.group }
func (r *Runner) ProcessorName() string { return r.handler.ProcessorName() }

// Process runs the pipeline for one decoded stream record
func (r *Runner) Process(ctx context.Context, fields map[string]string) streams.Result {
	messageID := fields[streams.FieldMessageID]
	if messageID == "" {
		logger.Warn("Processor %s received a record without message_id, skipping", r.ProcessorName())
		return streams.Acked()
	}
	eventType := fields[streams.FieldEventType]
	payloadJSON := fields[streams.FieldPayload]
	isResend := payload.ParseResendFlag(fields[streams.FieldMetadata])

	exists, err := r.handler.ExistsByMessageID(ctx, r.db, messageID)
	if err != nil {
		return streams.Rollback(fmt.Errorf("existence check for %s failed: %w", messageID, err))
	}
	if exists {
		if !isResend {
			logger.Debug("Processor %s already has message %s, skipping", r.ProcessorName(), messageID)
			return streams.Acked()
		}
		deleted, err := r.handler.DeleteByMessageID(ctx, r.db, messageID)
		if err != nil {
			return streams.Rollback(fmt.Errorf("resend delete for %s failed: %w", messageID, err))
		}
		logger.Info("Processor %s deleted %d rows for resend of %s", r.ProcessorName(), deleted, messageID)
	}

	if !gjson.Valid(payloadJSON) {
		logger.Warn("Processor %s got invalid payload for message %s", r.ProcessorName(), messageID)
		return streams.Rejected(fmt.Errorf("invalid JSON payload for message %s", messageID))
	}

	models, err := r.handler.BuildModels(messageID, eventType, payloadJSON)
	if err != nil {
		if errors.Is(err, ErrPayload) {
			logger.Warn("Processor %s rejected message %s: %v", r.ProcessorName(), messageID, err)
			return streams.Rejected(err)
		}
		return streams.Rollback(fmt.Errorf("building rows for %s failed: %w", messageID, err))
	}
	if len(models) == 0 {
		logger.Debug("Processor %s built no rows for message %s", r.ProcessorName(), messageID)
		return streams.Acked()
	}

	r.applyEnrichment(ctx, payloadJSON, models)

	if err := r.save(ctx, models); err != nil {
		return streams.Rollback(fmt.Errorf("saving rows for %s failed: %w", messageID, err))
	}

	if isResend && r.errors != nil {
		if cleared, err := r.errors.ClearByMessageID(ctx, messageID); err != nil {
			logger.Warn("Failed to clear ingestion errors for %s: %v", messageID, err)
		} else if cleared > 0 {
			logger.Info("Cleared %d ingestion errors for %s", cleared, messageID)
		}
	}
	return streams.Acked()
}

// applyEnrichment resolves the unit identifier and fills the enrichment
// columns of the first row. Lookup failures leave the columns null.
func (r *Runner) applyEnrichment(ctx context.Context, payloadJSON string, models []interface{}) {
	if r.enricher == nil {
		return
	}
	target, ok := models[0].(enrichable)
	if !ok {
		return
	}
	identifier := r.handler.UnitNumberFromPayload(payloadJSON)
	if identifier == "" {
		return
	}

	lookup := r.enricher.Lookup(ctx, identifier, r.handler.UnitTypeCodeFromPayload(payloadJSON))
	if lookup.Empty() {
		return
	}
	target.SetEnrichment(lookup.ContainerNumber, lookup.IDTrailer, lookup.IDVehicle)
}

func (r *Runner) save(ctx context.Context, models []interface{}) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range models {
			if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
