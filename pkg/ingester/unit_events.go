package ingester

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/payload"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// UnitEventHandler projects unit event messages into evt_unit_events, one
// row per message
type UnitEventHandler struct {
	DefaultUnitFields
}

func NewUnitEventHandler() *UnitEventHandler {
	return &UnitEventHandler{}
}

func (h *UnitEventHandler) ProcessorName() string {
	return "unit_events"
}

func (h *UnitEventHandler) ExistsByMessageID(ctx context.Context, db bun.IDB, messageID string) (bool, error) {
	return db.NewSelect().
		Model((*store.UnitEvent)(nil)).
		Where("message_id = ?", messageID).
		Exists(ctx)
}

func (h *UnitEventHandler) DeleteByMessageID(ctx context.Context, db bun.IDB, messageID string) (int64, error) {
	res, err := db.NewDelete().
		Model((*store.UnitEvent)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (h *UnitEventHandler) BuildModels(messageID, eventType, payloadJSON string) ([]interface{}, error) {
	row := &store.UnitEvent{
		MessageID:    messageID,
		UnitNumber:   payload.GetString(payloadJSON, "unitNumber"),
		UnitTypeCode: payload.GetString(payloadJSON, "unitTypeCode"),
		EventType:    payload.GetString(payloadJSON, "type"),
		EventTime:    payload.ParseTimestamp(payload.GetString(payloadJSON, "eventTime")),
		Latitude:     payload.GetFloat(payloadJSON, "latitude"),
		Longitude:    payload.GetFloat(payloadJSON, "longitude"),
		Severity:     payload.GetString(payloadJSON, "severity"),
		ReportNotes:  payload.GetString(payloadJSON, "reportNotes"),
		CreatedAt:    time.Now().UTC(),
	}
	if row.EventType == "" {
		row.EventType = eventType
	}
	return []interface{}{row}, nil
}
