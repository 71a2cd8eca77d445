package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/attachments"
	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/database"
	"github.com/tfplatform/eventfabric/pkg/store"
)

type fakeTransport struct {
	sent     int
	lastFrom string
	lastRcpt []string
	lastMsg  []byte
	fail     error
}

func (f *fakeTransport) Send(_ context.Context, from string, recipients []string, message []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent++
	f.lastFrom = from
	f.lastRcpt = recipients
	f.lastMsg = message
	return nil
}

type fakeFetcher struct {
	failOn  string
	fetched []string
	deleted []string
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) (*attachments.Attachment, error) {
	if id == f.failOn {
		return nil, fmt.Errorf("attachment %s download returned status 500", id)
	}
	f.fetched = append(f.fetched, id)
	return &attachments.Attachment{
		ID:          id,
		Filename:    "file_" + id + ".pdf",
		ContentType: "application/pdf",
		Data:        []byte("data-" + id),
	}, nil
}

func (f *fakeFetcher) Delete(_ context.Context, ids []string) {
	f.deleted = append(f.deleted, ids...)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	models := []interface{}{
		(*store.EmailTemplate)(nil),
		(*store.EmailRecipientList)(nil),
		(*store.EmailTemplateList)(nil),
		(*store.EmailSendLog)(nil),
	}
	for _, m := range models {
		_, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}
	return db
}

func seedTemplate(t *testing.T, db *bun.DB, code string, isHTML bool) *store.EmailTemplate {
	t.Helper()
	ctx := context.Background()

	tpl := &store.EmailTemplate{
		Code:    code,
		Subject: "Order {{data.id_purchase_order}}",
		Body:    "Order {{data.id_purchase_order}} from {{data.supplier_name}}",
		IsHTML:  isHTML,
		Active:  true,
	}
	_, err := db.NewInsert().Model(tpl).Exec(ctx)
	require.NoError(t, err)

	list := &store.EmailRecipientList{
		Name: code + "-list",
		To:   `["ops@example.com"]`,
		Cc:   `["audit@example.com"]`,
	}
	_, err = db.NewInsert().Model(list).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&store.EmailTemplateList{TemplateID: tpl.ID, ListID: list.ID}).Exec(ctx)
	require.NoError(t, err)
	return tpl
}

func newTestMailer(db *bun.DB, transport Transport, fetcher AttachmentFetcher) *Mailer {
	cfg := config.MailerConfig{
		FromAddress: "noreply@example.com",
		FromName:    "Event Fabric",
		FooterText:  "Automated message, do not reply.",
		FooterHTML:  "<p>Automated message</p>",
	}
	return NewMailer(cfg, store.NewTemplateRepository(db, nil), store.NewSendLogRepository(db), fetcher, transport)
}

func purchaseOrderVariables() map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"id_purchase_order": float64(1021),
			"supplier_name":     "ACME",
		},
	}
}

func TestSendFromTemplate(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	transport := &fakeTransport{}
	m := newTestMailer(db, transport, nil)
	ctx := context.Background()

	logID, err := m.SendFromTemplate(ctx, "PO_CREATED", config.EventMappingConfig{},
		purchaseOrderVariables(), "purchase_order", "1021", "notifier")
	require.NoError(t, err)
	require.NotZero(t, logID)

	assert.Equal(t, 1, transport.sent)
	assert.Equal(t, "noreply@example.com", transport.lastFrom)
	assert.ElementsMatch(t, []string{"ops@example.com", "audit@example.com"}, transport.lastRcpt)
	assert.Contains(t, string(transport.lastMsg), "Order 1021 from ACME")

	log, err := store.NewSendLogRepository(db).FindByID(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusSent, log.Status)
	assert.True(t, strings.HasPrefix(log.Body, "Order 1021 from ACME"))
	assert.Contains(t, log.Body, "Automated message, do not reply.")
	assert.NotEmpty(t, log.MessageID)
	assert.Equal(t, 1, log.Attempts)
}

func TestSendFromTemplateUnknownCode(t *testing.T) {
	m := newTestMailer(newTestDB(t), &fakeTransport{}, nil)

	_, err := m.SendFromTemplate(context.Background(), "NOPE", config.EventMappingConfig{},
		purchaseOrderVariables(), "", "", "notifier")
	assert.ErrorIs(t, err, store.ErrTemplateNotFound)
}

func TestSendFromTemplateSingleMail(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	transport := &fakeTransport{}
	m := newTestMailer(db, transport, nil)

	variables := purchaseOrderVariables()
	variables["parameters"] = map[string]interface{}{"email": "buyer@example.com"}

	_, err := m.SendFromTemplate(context.Background(), "PO_CREATED",
		config.EventMappingConfig{SingleMail: true}, variables, "", "", "notifier")
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer@example.com"}, transport.lastRcpt)
}

func TestSendFromTemplateNamedList(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	_, err := db.NewInsert().Model(&store.EmailRecipientList{
		Name: "escalation",
		To:   `["boss@example.com"]`,
	}).Exec(context.Background())
	require.NoError(t, err)

	transport := &fakeTransport{}
	m := newTestMailer(db, transport, nil)

	variables := purchaseOrderVariables()
	variables["parameters"] = map[string]interface{}{"email_list": "escalation"}

	_, err = m.SendFromTemplate(context.Background(), "PO_CREATED",
		config.EventMappingConfig{EmailListSpecified: true}, variables, "", "", "notifier")
	require.NoError(t, err)
	assert.Equal(t, []string{"boss@example.com"}, transport.lastRcpt)
}

func TestSendFromTemplateSMTPFailureMarksFailed(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	m := newTestMailer(db, &fakeTransport{fail: errors.New("connection refused")}, nil)
	ctx := context.Background()

	logID, err := m.SendFromTemplate(ctx, "PO_CREATED", config.EventMappingConfig{},
		purchaseOrderVariables(), "", "", "notifier")
	require.Error(t, err)
	require.NotZero(t, logID)

	log, err := store.NewSendLogRepository(db).FindByID(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusFailed, log.Status)
	assert.Contains(t, log.LastError, "connection refused")
}

func TestSendFromTemplateSMTPFailureSchedulesRetry(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	sendLog := store.NewSendLogRepository(db)
	cfg := config.MailerConfig{
		FromAddress: "noreply@example.com",
		MaxRetries:  3,
	}
	m := NewMailer(cfg, store.NewTemplateRepository(db, nil), sendLog, nil,
		&fakeTransport{fail: errors.New("connection refused")})
	ctx := context.Background()

	logID, err := m.SendFromTemplate(ctx, "PO_CREATED", config.EventMappingConfig{},
		purchaseOrderVariables(), "", "", "notifier")
	require.Error(t, err)
	require.NotZero(t, logID)

	log, err := sendLog.FindByID(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusRetry, log.Status)
	assert.Equal(t, 1, log.Attempts)

	// The retry scan picks it up
	retryable, err := sendLog.FindRetryable(ctx, cfg.MaxRetries)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, logID, retryable[0].ID)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	db := newTestDB(t)
	sendLog := store.NewSendLogRepository(db)
	m := newTestMailer(db, &fakeTransport{fail: errors.New("still down")}, nil)
	ctx := context.Background()

	log := &store.EmailSendLog{
		To:       `["ops@example.com"]`,
		Subject:  "Stuck",
		Body:     "retry me",
		Status:   store.SendStatusRetry,
		Attempts: 2,
	}
	require.NoError(t, sendLog.Create(ctx, log))

	m.RetryFailedEmails(ctx, 3)

	updated, err := sendLog.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusFailed, updated.Status)
	assert.Equal(t, 3, updated.Attempts)
}

func TestSendFromTemplateAttachmentIsBestEffort(t *testing.T) {
	db := newTestDB(t)
	seedTemplate(t, db, "PO_CREATED", false)
	transport := &fakeTransport{}
	m := newTestMailer(db, transport, &fakeFetcher{failOn: "77"})

	variables := purchaseOrderVariables()
	variables["parameters"] = map[string]interface{}{
		"email":         "buyer@example.com",
		"attachment_id": "77",
	}

	_, err := m.SendFromTemplate(context.Background(), "PO_CREATED",
		config.EventMappingConfig{SingleMail: true}, variables, "", "", "notifier")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.sent)
	assert.NotContains(t, string(transport.lastMsg), "multipart/mixed")
}

func TestDirectEmailWithAttachments(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	fetcher := &fakeFetcher{}
	m := newTestMailer(db, transport, fetcher)
	ctx := context.Background()

	logID, err := m.SendDirectEmail(ctx, DirectEmailRequest{
		To:                []string{"ops@example.com"},
		Subject:           "Manifest",
		Body:              "<html><body>See attached</body></html>",
		IsHTML:            true,
		Attachments:       []string{"10", "11"},
		DeleteAttachments: true,
	}, "ID:msg-9", "notifier")
	require.NoError(t, err)

	assert.Equal(t, 1, transport.sent)
	assert.Equal(t, []string{"10", "11"}, fetcher.fetched)
	assert.Equal(t, []string{"10", "11"}, fetcher.deleted)
	assert.Contains(t, string(transport.lastMsg), "multipart/mixed")

	log, err := store.NewSendLogRepository(db).FindByID(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusSent, log.Status)
	assert.Equal(t, "DIRECT_EMAIL", log.EntityType)
	assert.Equal(t, "ID:msg-9", log.EntityID)
	// HTML footer lands before the closing body tag
	assert.Contains(t, log.Body, "<p>Automated message</p></body>")
}

func TestDirectEmailAttachmentFailureAbortsSend(t *testing.T) {
	db := newTestDB(t)
	transport := &fakeTransport{}
	fetcher := &fakeFetcher{failOn: "11"}
	m := newTestMailer(db, transport, fetcher)
	ctx := context.Background()

	logID, err := m.SendDirectEmail(ctx, DirectEmailRequest{
		To:          []string{"ops@example.com"},
		Subject:     "Manifest",
		Body:        "See attached",
		Attachments: []string{"10", "11", "12"},
	}, "ID:msg-10", "notifier")
	require.Error(t, err)

	// No SMTP submission and no cleanup after a failed download
	assert.Zero(t, transport.sent)
	assert.Empty(t, fetcher.deleted)

	log, err := store.NewSendLogRepository(db).FindByID(ctx, logID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusFailed, log.Status)
}

func TestRetryFailedEmails(t *testing.T) {
	db := newTestDB(t)
	sendLog := store.NewSendLogRepository(db)
	transport := &fakeTransport{}
	m := newTestMailer(db, transport, nil)
	ctx := context.Background()

	log := &store.EmailSendLog{
		To:      `["ops@example.com"]`,
		Subject: "Stuck",
		Body:    "retry me",
		Status:  store.SendStatusRetry,
	}
	require.NoError(t, sendLog.Create(ctx, log))

	m.RetryFailedEmails(ctx, 3)

	assert.Equal(t, 1, transport.sent)
	updated, err := sendLog.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusSent, updated.Status)
}

func TestRetryFailureStaysRetry(t *testing.T) {
	db := newTestDB(t)
	sendLog := store.NewSendLogRepository(db)
	m := newTestMailer(db, &fakeTransport{fail: errors.New("still down")}, nil)
	ctx := context.Background()

	log := &store.EmailSendLog{
		To:      `["ops@example.com"]`,
		Subject: "Stuck",
		Body:    "retry me",
		Status:  store.SendStatusRetry,
	}
	require.NoError(t, sendLog.Create(ctx, log))

	m.RetryFailedEmails(ctx, 3)

	updated, err := sendLog.FindByID(ctx, log.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SendStatusRetry, updated.Status)
	assert.Equal(t, 1, updated.Attempts)
	assert.Contains(t, updated.LastError, "still down")
}

func TestAppendFooter(t *testing.T) {
	assert.Equal(t, "body\n\nfooter", AppendFooter("body", false, "footer"))
	assert.Equal(t, "<body>x<f></body>", AppendFooter("<body>x</body>", true, "<f>"))
	assert.Equal(t, "no closing tag<f>", AppendFooter("no closing tag", true, "<f>"))
	assert.Equal(t, "unchanged", AppendFooter("unchanged", true, ""))
}
