package ingester

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/enrichment"
	"github.com/tfplatform/eventfabric/pkg/payload"
	"github.com/tfplatform/eventfabric/pkg/store"
)

// Asset subtypes with a damage label pivot table
const (
	AssetTypeVehicle = "VEHICLE"
	AssetTypeTrailer = "TRAILER"
)

// AssetDamageHandler projects damage reports into the composite
// evt_asset_damages parent plus a per-subtype label pivot row
type AssetDamageHandler struct{}

func NewAssetDamageHandler() *AssetDamageHandler {
	return &AssetDamageHandler{}
}

func (h *AssetDamageHandler) ProcessorName() string {
	return "asset_damages"
}

func (h *AssetDamageHandler) ExistsByMessageID(ctx context.Context, db bun.IDB, messageID string) (bool, error) {
	return db.NewSelect().
		Model((*store.AssetDamage)(nil)).
		Where("message_id = ?", messageID).
		Exists(ctx)
}

// DeleteByMessageID removes the label rows first, then the parent
func (h *AssetDamageHandler) DeleteByMessageID(ctx context.Context, db bun.IDB, messageID string) (int64, error) {
	var parents []store.AssetDamage
	if err := db.NewSelect().
		Model(&parents).
		Column("id").
		Where("message_id = ?", messageID).
		Scan(ctx); err != nil {
		return 0, err
	}
	if len(parents) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(parents))
	for _, p := range parents {
		ids = append(ids, p.ID)
	}

	var total int64
	for _, model := range []interface{}{
		(*store.VehicleDamageLabel)(nil),
		(*store.TrailerDamageLabel)(nil),
	} {
		res, err := db.NewDelete().
			Model(model).
			Where("id_asset_damage IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}

	res, err := db.NewDelete().
		Model((*store.AssetDamage)(nil)).
		Where("message_id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return total, err
	}
	n, _ := res.RowsAffected()
	return total + n, nil
}

func (h *AssetDamageHandler) BuildModels(messageID, eventType, payloadJSON string) ([]interface{}, error) {
	id := payload.GetLong(payloadJSON, "id")
	if id == nil {
		return nil, fmt.Errorf("%w: asset damage without id", ErrPayload)
	}
	assetType := payload.GetString(payloadJSON, "assetType")

	parent := &store.AssetDamage{
		ID:              *id,
		MessageID:       messageID,
		AssetType:       assetType,
		AssetIdentifier: payload.GetString(payloadJSON, "assetIdentifier"),
		EventTime:       payload.ParseTimestamp(payload.GetString(payloadJSON, "eventTime")),
		ReportNotes:     payload.GetString(payloadJSON, "reportNotes"),
		CreatedAt:       time.Now().UTC(),
	}
	models := []interface{}{parent}

	labels := collectLabels(payloadJSON)
	switch assetType {
	case AssetTypeVehicle:
		if len(labels) > 0 {
			models = append(models, buildVehicleLabels(*id, labels))
		}
	case AssetTypeTrailer:
		if len(labels) > 0 {
			models = append(models, buildTrailerLabels(*id, labels))
		}
	}
	return models, nil
}

// UnitNumberFromPayload feeds the catalogue lookup with the asset identifier
func (h *AssetDamageHandler) UnitNumberFromPayload(payloadJSON string) string {
	return payload.GetString(payloadJSON, "assetIdentifier")
}

// UnitTypeCodeFromPayload derives a synthetic type code from the asset type:
// containers use the container branch, everything else the plate fallback
func (h *AssetDamageHandler) UnitTypeCodeFromPayload(payloadJSON string) string {
	assetType := payload.GetString(payloadJSON, "assetType")
	if assetType == "CONTAINER" {
		return enrichment.TypeCodeContainer
	}
	return assetType
}

func collectLabels(payloadJSON string) []string {
	var labels []string
	gjson.Get(payloadJSON, "assetDamageLabels").ForEach(func(_, entry gjson.Result) bool {
		if label := entry.Get("assetDamageLabel").String(); label != "" {
			labels = append(labels, label)
		}
		return true
	})
	return labels
}

// The label sets are closed; anything outside the map lands in the other
// column

func buildVehicleLabels(idAssetDamage int64, labels []string) *store.VehicleDamageLabel {
	row := &store.VehicleDamageLabel{IDAssetDamage: idAssetDamage}
	for _, label := range labels {
		switch label {
		case "DMG_BRACKING":
			row.DmgBraking = true
		case "DMG_TYRES":
			row.DmgTyres = true
		case "DMG_LIGHTS":
			row.DmgLights = true
		case "DMG_BODYWORK":
			row.DmgBodywork = true
		case "DMG_ENGINE":
			row.DmgEngine = true
		default:
			row.DmgOther = true
		}
	}
	return row
}

func buildTrailerLabels(idAssetDamage int64, labels []string) *store.TrailerDamageLabel {
	row := &store.TrailerDamageLabel{IDAssetDamage: idAssetDamage}
	for _, label := range labels {
		switch label {
		case "DMG_AXLE":
			row.DmgAxle = true
		case "DMG_TYRES":
			row.DmgTyres = true
		case "DMG_CURTAIN":
			row.DmgCurtain = true
		case "DMG_FLOOR":
			row.DmgFloor = true
		case "DMG_COOLING":
			row.DmgCooling = true
		default:
			row.DmgOther = true
		}
	}
	return row
}
