// Package notifier turns stream events into outgoing email by matching each
// record against the configured event mappings. Send failures never block the
// stream: the send log carries the failure and the record is acknowledged.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/mailer"
	"github.com/tfplatform/eventfabric/pkg/streams"
)

const defaultEventTypeField = "event_type"

// Sender is the slice of the mailer the notifier drives
type Sender interface {
	SendFromTemplate(ctx context.Context, templateCode string, mapping config.EventMappingConfig, variables map[string]interface{}, entityType, entityID, sentBy string) (int64, error)
	SendDirectEmail(ctx context.Context, req mailer.DirectEmailRequest, originatingMessageID, sentBy string) (int64, error)
}

// Dispatcher consumes one stream/group pair and dispatches matching events
// to the mailer. One dispatcher exists per pair; its mappings are the subset
// configured for that pair.
type Dispatcher struct {
	stream   string
	group    string
	mappings []config.EventMappingConfig
	sender   Sender
}

// BuildDispatchers groups the configured mappings by stream and consumer
// group, one dispatcher each
func BuildDispatchers(mappings []config.EventMappingConfig, sender Sender) []*Dispatcher {
	var dispatchers []*Dispatcher
	index := make(map[string]*Dispatcher)
	for _, m := range mappings {
		key := m.Stream + "|" + m.ConsumerGroup
		d, ok := index[key]
		if !ok {
			d = &Dispatcher{stream: m.Stream, group: m.ConsumerGroup, sender: sender}
			index[key] = d
			dispatchers = append(dispatchers, d)
		}
		d.mappings = append(d.mappings, m)
	}
	return dispatchers
}

// NewDispatcher builds a dispatcher for one stream/group pair
func NewDispatcher(stream, group string, mappings []config.EventMappingConfig, sender Sender) *Dispatcher {
	return &Dispatcher{stream: stream, group: group, mappings: mappings, sender: sender}
}

func (d *Dispatcher) StreamKey() string     { return d.stream }
func (d *Dispatcher) ConsumerGroup() string { return d.group }
func (d *Dispatcher) ProcessorName() string { return "notifier:" + d.stream }

// Process matches the record against the mappings and sends at most one
// email. Send errors are logged, never escalated.
func (d *Dispatcher) Process(ctx context.Context, fields map[string]string) streams.Result {
	messageID := fields[streams.FieldMessageID]

	mapping, ok := d.match(fields)
	if !ok {
		logger.Debug("No mapping for message %s on %s, skipping", messageID, d.stream)
		return streams.Acked()
	}

	if err := d.dispatch(ctx, mapping, fields, messageID); err != nil {
		logger.Error("Notification for message %s failed: %v", messageID, err)
	}

	if !mapping.IsAutoAck() {
		// Operator opted out of acknowledgement; the record stays in the
		// pending list on purpose
		logger.Warn("Mapping for %s on %s has auto_ack disabled, leaving record pending", mapping.EventType, d.stream)
		return streams.Result{Outcome: streams.OutcomeRollbackForRedelivery}
	}
	return streams.Acked()
}

func (d *Dispatcher) match(fields map[string]string) (config.EventMappingConfig, bool) {
	for _, m := range d.mappings {
		field := m.EventTypeField
		if field == "" {
			field = defaultEventTypeField
		}
		if fields[field] == m.EventType {
			return m, true
		}
	}
	return config.EventMappingConfig{}, false
}

func (d *Dispatcher) dispatch(ctx context.Context, mapping config.EventMappingConfig, fields map[string]string, messageID string) error {
	payloadJSON := fields[streams.FieldPayload]

	if mapping.DirectEmail {
		req, err := directRequestFrom(payloadJSON)
		if err != nil {
			return err
		}
		_, err = d.sender.SendDirectEmail(ctx, req, messageID, "notifier")
		return err
	}

	if mapping.TemplateCode == "" {
		return fmt.Errorf("mapping for %s has neither template_code nor direct_email", mapping.EventType)
	}

	variables, err := variableContext(payloadJSON)
	if err != nil {
		return err
	}
	_, err = d.sender.SendFromTemplate(ctx, mapping.TemplateCode, mapping, variables, mapping.EventType, messageID, "notifier")
	return err
}

// variableContext converts the payload into the nested tree the renderer
// walks, preserving arrays and objects
func variableContext(payloadJSON string) (map[string]interface{}, error) {
	var ctx map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &ctx); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return ctx, nil
}

// directRequestFrom reads the direct-email parameters. The parameters value
// is either a nested object or a JSON-quoted string, sometimes quoted twice.
func directRequestFrom(payloadJSON string) (mailer.DirectEmailRequest, error) {
	params, err := parameterObject(payloadJSON)
	if err != nil {
		return mailer.DirectEmailRequest{}, err
	}

	req := mailer.DirectEmailRequest{
		From:              gjson.Get(params, "from").String(),
		SenderName:        gjson.Get(params, "sender_name").String(),
		To:                addressList(gjson.Get(params, "to")),
		Cc:                addressList(gjson.Get(params, "cc")),
		Bcc:               addressList(gjson.Get(params, "ccn")),
		Subject:           gjson.Get(params, "subject").String(),
		Body:              gjson.Get(params, "body").String(),
		IsHTML:            gjson.Get(params, "is_html").Bool(),
		Attachments:       idList(gjson.Get(params, "attachments")),
		DeleteAttachments: gjson.Get(params, "delete_attachments").Bool(),
	}
	if len(req.To) == 0 {
		return mailer.DirectEmailRequest{}, fmt.Errorf("direct email parameters without recipients")
	}
	return req, nil
}

func parameterObject(payloadJSON string) (string, error) {
	raw := gjson.Get(payloadJSON, "parameters")
	if !raw.Exists() {
		return "", fmt.Errorf("payload has no parameters")
	}
	if raw.IsObject() {
		return raw.Raw, nil
	}
	if raw.Type != gjson.String {
		return "", fmt.Errorf("parameters is neither object nor string")
	}

	// Unescape once; some producers quote the object twice
	once := raw.String()
	if gjson.Valid(once) && gjson.Parse(once).IsObject() {
		return once, nil
	}
	var twice string
	if err := json.Unmarshal([]byte(once), &twice); err == nil {
		if gjson.Valid(twice) && gjson.Parse(twice).IsObject() {
			return twice, nil
		}
	}
	return "", fmt.Errorf("parameters string does not decode to an object")
}

// addressList accepts a JSON array of addresses or a delimited string
func addressList(r gjson.Result) []string {
	var out []string
	if r.IsArray() {
		for _, entry := range r.Array() {
			if addr := strings.TrimSpace(entry.String()); addr != "" {
				out = append(out, addr)
			}
		}
		return out
	}
	for _, addr := range strings.FieldsFunc(r.String(), func(c rune) bool {
		return c == ',' || c == ';'
	}) {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// idList renders attachment ids as strings whether they arrive as numbers or
// strings
func idList(r gjson.Result) []string {
	var out []string
	for _, entry := range r.Array() {
		if id := strings.TrimSpace(entry.String()); id != "" {
			out = append(out, id)
		}
	}
	return out
}
