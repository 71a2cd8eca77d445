// Package mailer renders, assembles and submits outgoing email, keeping the
// send log as the audit trail of every attempt.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tfplatform/eventfabric/pkg/attachments"
	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
	"github.com/tfplatform/eventfabric/pkg/store"
	"github.com/tfplatform/eventfabric/pkg/template"
)

// AttachmentFetcher is the slice of the attachment client the mailer needs
type AttachmentFetcher interface {
	Fetch(ctx context.Context, id string) (*attachments.Attachment, error)
	Delete(ctx context.Context, ids []string)
}

// DirectEmailRequest is a fully specified send that bypasses templates
type DirectEmailRequest struct {
	From              string
	SenderName        string
	To                []string
	Cc                []string
	Bcc               []string
	Subject           string
	Body              string
	IsHTML            bool
	Attachments       []string
	DeleteAttachments bool
}

// Mailer coordinates rendering, attachment handling, SMTP submission and the
// send log
type Mailer struct {
	cfg         config.MailerConfig
	templates   *store.TemplateRepository
	sendLog     *store.SendLogRepository
	attachments AttachmentFetcher
	transport   Transport
}

// NewMailer wires the mailer. The attachment fetcher may be nil when no
// backend is configured.
func NewMailer(cfg config.MailerConfig, templates *store.TemplateRepository, sendLog *store.SendLogRepository, fetcher AttachmentFetcher, transport Transport) *Mailer {
	return &Mailer{
		cfg:         cfg,
		templates:   templates,
		sendLog:     sendLog,
		attachments: fetcher,
		transport:   transport,
	}
}

// SendFromTemplate renders a stored template against the variable context and
// submits it to the recipients the mapping resolves. The returned log id is
// valid even when the send failed.
func (m *Mailer) SendFromTemplate(ctx context.Context, templateCode string, mapping config.EventMappingConfig, variables map[string]interface{}, entityType, entityID, sentBy string) (int64, error) {
	tpl, err := m.templates.FindByCode(ctx, templateCode)
	if err != nil {
		return 0, err
	}

	to, cc, bcc, err := m.resolveRecipients(ctx, tpl, mapping, variables)
	if err != nil {
		return 0, err
	}

	subject := template.Render(tpl.Subject, variables)
	body := AppendFooter(template.Render(tpl.Body, variables), tpl.IsHTML, m.footer(tpl.IsHTML))

	log := &store.EmailSendLog{
		TemplateID:   &tpl.ID,
		TemplateCode: tpl.Code,
		To:           encodeRecipients(to),
		Cc:           encodeRecipients(cc),
		Bcc:          encodeRecipients(bcc),
		Subject:      subject,
		Body:         body,
		IsHTML:       tpl.IsHTML,
		Variables:    encodeVariables(variables),
		EntityType:   entityType,
		EntityID:     entityID,
		SentBy:       sentBy,
	}
	if err := m.sendLog.Create(ctx, log); err != nil {
		return 0, err
	}

	msg := &Message{
		From:     m.cfg.FromAddress,
		FromName: m.senderName(mapping.EmailSenderName),
		To:       to,
		Cc:       cc,
		Bcc:      bcc,
		Subject:  subject,
		Body:     body,
		IsHTML:   tpl.IsHTML,
	}

	// A template attachment is best effort: the mail still goes out when
	// the download fails
	if id := paramString(variables, "attachment_id"); id != "" && m.attachments != nil {
		att, err := m.attachments.Fetch(ctx, id)
		if err != nil {
			logger.Warn("Skipping attachment %s for template %s: %v", id, templateCode, err)
		} else {
			msg.Attachments = append(msg.Attachments, att)
		}
	}

	return log.ID, m.submit(ctx, log.ID, tpl.Code, msg)
}

// SendDirectEmail submits a fully specified message. Every attachment must
// download before anything is submitted; a single failure leaves the log
// FAILED with no SMTP traffic.
func (m *Mailer) SendDirectEmail(ctx context.Context, req DirectEmailRequest, originatingMessageID, sentBy string) (int64, error) {
	if len(req.To) == 0 {
		return 0, fmt.Errorf("direct email has no recipients")
	}

	body := AppendFooter(req.Body, req.IsHTML, m.footer(req.IsHTML))

	log := &store.EmailSendLog{
		To:         encodeRecipients(req.To),
		Cc:         encodeRecipients(req.Cc),
		Bcc:        encodeRecipients(req.Bcc),
		Subject:    req.Subject,
		Body:       body,
		IsHTML:     req.IsHTML,
		EntityType: "DIRECT_EMAIL",
		EntityID:   originatingMessageID,
		SentBy:     sentBy,
	}
	if err := m.sendLog.Create(ctx, log); err != nil {
		return 0, err
	}

	var atts []*attachments.Attachment
	for _, id := range req.Attachments {
		if m.attachments == nil {
			err := fmt.Errorf("attachment %s requested but no backend configured", id)
			m.markFailed(ctx, log.ID, "", err)
			return log.ID, err
		}
		att, err := m.attachments.Fetch(ctx, id)
		if err != nil {
			err = fmt.Errorf("direct email aborted: %w", err)
			m.markFailed(ctx, log.ID, "", err)
			return log.ID, err
		}
		atts = append(atts, att)
	}

	from := req.From
	if from == "" {
		from = m.cfg.FromAddress
	}
	msg := &Message{
		From:        from,
		FromName:    m.senderName(req.SenderName),
		To:          req.To,
		Cc:          req.Cc,
		Bcc:         req.Bcc,
		Subject:     req.Subject,
		Body:        body,
		IsHTML:      req.IsHTML,
		Attachments: atts,
	}

	if err := m.submit(ctx, log.ID, "", msg); err != nil {
		return log.ID, err
	}

	if req.DeleteAttachments && len(req.Attachments) > 0 && m.attachments != nil {
		m.attachments.Delete(ctx, req.Attachments)
	}
	return log.ID, nil
}

// RetryFailedEmails rebuilds and resubmits RETRY logs with fewer than
// maxRetries attempts. Each log moves to SENT, back to RETRY, or to FAILED
// once the attempt ceiling is reached.
func (m *Mailer) RetryFailedEmails(ctx context.Context, maxRetries int) {
	logs, err := m.sendLog.FindRetryable(ctx, maxRetries)
	if err != nil {
		logger.Error("Retry scan failed: %v", err)
		return
	}

	for i := range logs {
		log := &logs[i]
		msg := &Message{
			From:     m.cfg.FromAddress,
			FromName: m.cfg.FromName,
			To:       decodeRecipients(log.To),
			Cc:       decodeRecipients(log.Cc),
			Bcc:      decodeRecipients(log.Bcc),
			Subject:  log.Subject,
			Body:     log.Body,
			IsHTML:   log.IsHTML,
		}

		raw, messageID, err := msg.Build()
		if err == nil {
			err = m.transport.Send(ctx, msg.From, msg.Recipients(), raw)
		}
		if err != nil {
			logger.Warn("Retry of send log %d failed: %v", log.ID, err)
			if markErr := m.sendLog.MarkSendFailure(ctx, log.ID, err, maxRetries); markErr != nil {
				logger.Error("Failed to update send log %d: %v", log.ID, markErr)
			}
			continue
		}
		if err := m.sendLog.MarkSent(ctx, log.ID, messageID); err != nil {
			logger.Error("Failed to mark send log %d sent: %v", log.ID, err)
		}
	}
}

func (m *Mailer) submit(ctx context.Context, logID int64, templateCode string, msg *Message) error {
	raw, messageID, err := msg.Build()
	if err == nil {
		err = m.transport.Send(ctx, msg.From, msg.Recipients(), raw)
	}
	if err != nil {
		m.markSendFailure(ctx, logID, templateCode, err)
		return err
	}

	metrics.GetProvider().RecordEmailSend(templateCode, "sent")
	if err := m.sendLog.MarkSent(ctx, logID, messageID); err != nil {
		logger.Error("Failed to mark send log %d sent: %v", logID, err)
	}
	return nil
}

func (m *Mailer) markFailed(ctx context.Context, logID int64, templateCode string, sendErr error) {
	metrics.GetProvider().RecordEmailSend(templateCode, "failed")
	if err := m.sendLog.MarkFailed(ctx, logID, sendErr); err != nil {
		logger.Error("Failed to mark send log %d failed: %v", logID, err)
	}
}

// markSendFailure records a failed submission attempt; the retry scan picks
// the log up again until the attempt ceiling is reached
func (m *Mailer) markSendFailure(ctx context.Context, logID int64, templateCode string, sendErr error) {
	metrics.GetProvider().RecordEmailSend(templateCode, "failed")
	if err := m.sendLog.MarkSendFailure(ctx, logID, sendErr, m.cfg.MaxRetries); err != nil {
		logger.Error("Failed to update send log %d: %v", logID, err)
	}
}

func (m *Mailer) resolveRecipients(ctx context.Context, tpl *store.EmailTemplate, mapping config.EventMappingConfig, variables map[string]interface{}) (to, cc, bcc []string, err error) {
	switch {
	case mapping.SingleMail:
		email := paramString(variables, "email")
		if email == "" {
			return nil, nil, nil, fmt.Errorf("single-mail mapping without parameters.email")
		}
		return []string{email}, nil, nil, nil

	case mapping.EmailListSpecified:
		listName := paramString(variables, "email_list")
		if listName == "" {
			return nil, nil, nil, fmt.Errorf("list mapping without parameters.email_list")
		}
		list, err := m.templates.FindListByName(ctx, listName)
		if err != nil {
			return nil, nil, nil, err
		}
		to, cc, bcc = list.Recipients()

	default:
		lists, err := m.templates.RecipientListsFor(ctx, tpl.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, list := range lists {
			t, c, b := list.Recipients()
			to = append(to, t...)
			cc = append(cc, c...)
			bcc = append(bcc, b...)
		}
	}

	if len(to) == 0 {
		return nil, nil, nil, fmt.Errorf("template %s resolved no recipients", tpl.Code)
	}
	return to, cc, bcc, nil
}

func (m *Mailer) senderName(override string) string {
	if override != "" {
		return override
	}
	return m.cfg.FromName
}

func (m *Mailer) footer(isHTML bool) string {
	if isHTML {
		return m.cfg.FooterHTML
	}
	return m.cfg.FooterText
}

// paramString reads a string from the parameters object of the variable
// context
func paramString(variables map[string]interface{}, key string) string {
	params, ok := variables["parameters"].(map[string]interface{})
	if !ok {
		return ""
	}
	switch v := params[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func encodeRecipients(addrs []string) string {
	if len(addrs) == 0 {
		return ""
	}
	data, err := json.Marshal(addrs)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeRecipients(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeVariables(variables map[string]interface{}) string {
	if len(variables) == 0 {
		return ""
	}
	data, err := json.Marshal(variables)
	if err != nil {
		return ""
	}
	return string(data)
}
