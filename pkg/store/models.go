// Package store holds the bun models and repositories for the fabric's
// relational state: the raw-event recovery log, typed event projections,
// error ingestion, email templates and the email send log.
package store

import (
	"time"

	"github.com/uptrace/bun"
)

// RawEvent is a byte-for-byte copy of what the broker delivered. Rows are
// written only by the gateway, via upsert on message_id, and never mutated
// afterwards.
type RawEvent struct {
	bun.BaseModel `bun:"table:evt_raw_events"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	MessageID   string     `bun:"message_id,notnull,unique" json:"message_id"`
	EventType   string     `bun:"event_type,notnull" json:"event_type"`
	EventTime   *time.Time `bun:"event_time" json:"event_time,omitempty"`
	Payload     string     `bun:"payload" json:"payload"`
	Checksum    string     `bun:"checksum" json:"checksum"`
	ProcessedAt time.Time  `bun:"processed_at,notnull" json:"processed_at"`
}

// ErrorIngestion records a processor failure for a message. Cleared when the
// same message_id is later processed successfully after a resend.
type ErrorIngestion struct {
	bun.BaseModel `bun:"table:evt_error_ingestion"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	MessageID     string    `bun:"message_id,notnull" json:"message_id"`
	IngestionTime time.Time `bun:"ingestion_time,notnull" json:"ingestion_time"`
	ErrorMessage  string    `bun:"error_message" json:"error_message"`
}

// UnitEvent is the single-row projection of a unit event message
type UnitEvent struct {
	bun.BaseModel `bun:"table:evt_unit_events"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	MessageID    string     `bun:"message_id,notnull,unique" json:"message_id"`
	UnitNumber   string     `bun:"unit_number" json:"unit_number"`
	UnitTypeCode string     `bun:"unit_type_code" json:"unit_type_code"`
	EventType    string     `bun:"event_type" json:"event_type"`
	EventTime    *time.Time `bun:"event_time" json:"event_time,omitempty"`
	Latitude     *float64   `bun:"latitude" json:"latitude,omitempty"`
	Longitude    *float64   `bun:"longitude" json:"longitude,omitempty"`
	Severity     string     `bun:"severity" json:"severity"`
	ReportNotes  string     `bun:"report_notes" json:"report_notes"`

	// Enrichment columns; null when the catalogue lookup finds nothing
	ContainerNumber *string `bun:"container_number" json:"container_number,omitempty"`
	IDTrailer       *int64  `bun:"id_trailer" json:"id_trailer,omitempty"`
	IDVehicle       *int64  `bun:"id_vehicle" json:"id_vehicle,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// SetEnrichment fills the enrichment columns
func (e *UnitEvent) SetEnrichment(containerNumber *string, idTrailer, idVehicle *int64) {
	e.ContainerNumber = containerNumber
	e.IDTrailer = idTrailer
	e.IDVehicle = idVehicle
}

// TemperatureReading is the multi-row projection: one message expands into N
// rows disambiguated by pos_index, unique on (message_id, pos_index).
type TemperatureReading struct {
	bun.BaseModel `bun:"table:evt_temperature_readings"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	MessageID   string     `bun:"message_id,notnull,unique:uq_temp_msg_pos" json:"message_id"`
	PosIndex    int        `bun:"pos_index,notnull,unique:uq_temp_msg_pos" json:"pos_index"`
	UnitNumber  string     `bun:"unit_number" json:"unit_number"`
	SensorCode  string     `bun:"sensor_code" json:"sensor_code"`
	Temperature string     `bun:"temperature" json:"temperature"`
	ReadingTime *time.Time `bun:"reading_time" json:"reading_time,omitempty"`

	ContainerNumber *string `bun:"container_number" json:"container_number,omitempty"`
	IDTrailer       *int64  `bun:"id_trailer" json:"id_trailer,omitempty"`
	IDVehicle       *int64  `bun:"id_vehicle" json:"id_vehicle,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// SetEnrichment fills the enrichment columns
func (r *TemperatureReading) SetEnrichment(containerNumber *string, idTrailer, idVehicle *int64) {
	r.ContainerNumber = containerNumber
	r.IDTrailer = idTrailer
	r.IDVehicle = idVehicle
}

// AssetDamage is the parent row of the composite asset-damage projection
type AssetDamage struct {
	bun.BaseModel `bun:"table:evt_asset_damages"`

	ID              int64      `bun:"id,pk" json:"id"`
	MessageID       string     `bun:"message_id,notnull,unique" json:"message_id"`
	AssetType       string     `bun:"asset_type" json:"asset_type"`
	AssetIdentifier string     `bun:"asset_identifier" json:"asset_identifier"`
	EventTime       *time.Time `bun:"event_time" json:"event_time,omitempty"`
	ReportNotes     string     `bun:"report_notes" json:"report_notes"`

	ContainerNumber *string `bun:"container_number" json:"container_number,omitempty"`
	IDTrailer       *int64  `bun:"id_trailer" json:"id_trailer,omitempty"`
	IDVehicle       *int64  `bun:"id_vehicle" json:"id_vehicle,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// SetEnrichment fills the enrichment columns
func (d *AssetDamage) SetEnrichment(containerNumber *string, idTrailer, idVehicle *int64) {
	d.ContainerNumber = containerNumber
	d.IDTrailer = idTrailer
	d.IDVehicle = idVehicle
}

// VehicleDamageLabel pivots the vehicle damage tag array into boolean columns
type VehicleDamageLabel struct {
	bun.BaseModel `bun:"table:evt_vehicle_damage_labels"`

	ID            int64 `bun:"id,pk,autoincrement" json:"id"`
	IDAssetDamage int64 `bun:"id_asset_damage,notnull" json:"id_asset_damage"`
	DmgBraking    bool  `bun:"dmg_braking,notnull,default:false" json:"dmg_braking"`
	DmgTyres      bool  `bun:"dmg_tyres,notnull,default:false" json:"dmg_tyres"`
	DmgLights     bool  `bun:"dmg_lights,notnull,default:false" json:"dmg_lights"`
	DmgBodywork   bool  `bun:"dmg_bodywork,notnull,default:false" json:"dmg_bodywork"`
	DmgEngine     bool  `bun:"dmg_engine,notnull,default:false" json:"dmg_engine"`
	DmgOther      bool  `bun:"dmg_other,notnull,default:false" json:"dmg_other"`
}

// TrailerDamageLabel pivots the trailer damage tag array into boolean columns
type TrailerDamageLabel struct {
	bun.BaseModel `bun:"table:evt_trailer_damage_labels"`

	ID            int64 `bun:"id,pk,autoincrement" json:"id"`
	IDAssetDamage int64 `bun:"id_asset_damage,notnull" json:"id_asset_damage"`
	DmgAxle       bool  `bun:"dmg_axle,notnull,default:false" json:"dmg_axle"`
	DmgTyres      bool  `bun:"dmg_tyres,notnull,default:false" json:"dmg_tyres"`
	DmgCurtain    bool  `bun:"dmg_curtain,notnull,default:false" json:"dmg_curtain"`
	DmgFloor      bool  `bun:"dmg_floor,notnull,default:false" json:"dmg_floor"`
	DmgCooling    bool  `bun:"dmg_cooling,notnull,default:false" json:"dmg_cooling"`
	DmgOther      bool  `bun:"dmg_other,notnull,default:false" json:"dmg_other"`
}

// EmailTemplate is a stored, renderable email body identified by code
type EmailTemplate struct {
	bun.BaseModel `bun:"table:email_templates"`

	ID      int64  `bun:"id,pk,autoincrement" json:"id"`
	Code    string `bun:"code,notnull,unique" json:"code"`
	Subject string `bun:"subject" json:"subject"`
	Body    string `bun:"body" json:"body"`
	IsHTML  bool   `bun:"is_html,notnull,default:false" json:"is_html"`
	Active  bool   `bun:"active,notnull" json:"active"`
}

// EmailRecipientList is a named set of TO/CC/BCC recipients. The JSON columns
// hold string arrays.
type EmailRecipientList struct {
	bun.BaseModel `bun:"table:email_recipient_lists,alias:erl"`

	ID   int64  `bun:"id,pk,autoincrement" json:"id"`
	Name string `bun:"name,notnull,unique" json:"name"`
	To   string `bun:"to_recipients" json:"to"`
	Cc   string `bun:"cc_recipients" json:"cc"`
	Bcc  string `bun:"bcc_recipients" json:"bcc"`
}

// EmailTemplateList joins templates to recipient lists
type EmailTemplateList struct {
	bun.BaseModel `bun:"table:email_template_lists"`

	TemplateID int64 `bun:"template_id,pk" json:"template_id"`
	ListID     int64 `bun:"list_id,pk" json:"list_id"`
}

// Send-log statuses form a linear lifecycle
const (
	SendStatusPending = "PENDING"
	SendStatusSent    = "SENT"
	SendStatusFailed  = "FAILED"
	SendStatusRetry   = "RETRY"
)

// EmailSendLog audits every delivery attempt
type EmailSendLog struct {
	bun.BaseModel `bun:"table:email_send_log"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	TemplateID   *int64     `bun:"template_id" json:"template_id,omitempty"`
	TemplateCode string     `bun:"template_code" json:"template_code"`
	To           string     `bun:"to_recipients" json:"to"`
	Cc           string     `bun:"cc_recipients" json:"cc"`
	Bcc          string     `bun:"bcc_recipients" json:"bcc"`
	Subject      string     `bun:"subject" json:"subject"`
	Body         string     `bun:"body" json:"body"`
	IsHTML       bool       `bun:"is_html,notnull,default:false" json:"is_html"`
	Variables    string     `bun:"variables" json:"variables"`
	EntityType   string     `bun:"entity_type" json:"entity_type"`
	EntityID     string     `bun:"entity_id" json:"entity_id"`
	Status       string     `bun:"status,notnull" json:"status"`
	MessageID    string     `bun:"message_id" json:"message_id"`
	Attempts     int        `bun:"attempts,notnull,default:0" json:"attempts"`
	LastError    string     `bun:"last_error" json:"last_error"`
	SentBy       string     `bun:"sent_by" json:"sent_by"`
	CreatedAt    time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	SentAt       *time.Time `bun:"sent_at" json:"sent_at,omitempty"`
}
