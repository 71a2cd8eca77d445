package ingester

import (
	"context"
	"time"

	"github.com/tidwall/gjson"
	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/payload"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// TemperatureReadingHandler expands one temperature message into N rows of
// evt_temperature_readings, numbered by pos_index
type TemperatureReadingHandler struct {
	DefaultUnitFields
}

func NewTemperatureReadingHandler() *TemperatureReadingHandler {
	return &TemperatureReadingHandler{}
}

func (h *TemperatureReadingHandler) ProcessorName() string {
	return "temperature_readings"
}

func (h *TemperatureReadingHandler) ExistsByMessageID(ctx context.Context, db bun.IDB, messageID string) (bool, error) {
	return db.NewSelect().
		Model((*store.TemperatureReading)(nil)).
		Where("message_id = ?", messageID).
		Exists(ctx)
}

func (h *TemperatureReadingHandler) DeleteByMessageID(ctx context.Context, db bun.IDB, messageID string) (int64, error) {
	res, err := db.NewDelete().
		Model((*store.TemperatureReading)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (h *TemperatureReadingHandler) BuildModels(messageID, eventType, payloadJSON string) ([]interface{}, error) {
	unitNumber := payload.GetString(payloadJSON, "unitNumber")
	now := time.Now().UTC()

	var rows []interface{}
	readings := gjson.Get(payloadJSON, "readings")
	readings.ForEach(func(_, reading gjson.Result) bool {
		raw := reading.Raw
		temperature := payload.GetString(raw, "temperature")
		if d := payload.ParseDecimal(temperature); d != nil {
			temperature = d.String()
		}
		rows = append(rows, &store.TemperatureReading{
			MessageID:   messageID,
			PosIndex:    len(rows) + 1,
			UnitNumber:  unitNumber,
			SensorCode:  payload.GetString(raw, "sensorCode"),
			Temperature: temperature,
			ReadingTime: payload.ParseTimestamp(payload.GetString(raw, "readingTime")),
			CreatedAt:   now,
		})
		return true
	})
	return rows, nil
}
