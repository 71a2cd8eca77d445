package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/tfplatform/eventfabric/pkg/cache"
	"github.com/tfplatform/eventfabric/pkg/logger"
)

// ErrTemplateNotFound is returned for unknown or inactive template codes
var ErrTemplateNotFound = errors.New("email template not found")

// TemplateRepository reads email templates and their recipient lists.
// Reads go through the shared cache when one is configured.
type TemplateRepository struct {
	db    bun.IDB
	cache cache.Provider
}

// NewTemplateRepository creates a repository over the shared pool. The cache
// may be nil.
func NewTemplateRepository(db bun.IDB, c cache.Provider) *TemplateRepository {
	return &TemplateRepository{db: db, cache: c}
}

// FindByCode loads an active template by code
func (r *TemplateRepository) FindByCode(ctx context.Context, code string) (*EmailTemplate, error) {
	cacheKey := "template:" + code

	if r.cache != nil {
		if data, ok := r.cache.Get(ctx, cacheKey); ok {
			var tpl EmailTemplate
			if err := json.Unmarshal(data, &tpl); err == nil {
				return &tpl, nil
			}
			logger.Warn("Discarding unreadable cached template %s", code)
		}
	}

	var tpl EmailTemplate
	err := r.db.NewSelect().
		Model(&tpl).
		Where("code = ?", code).
		Where("active = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", code, err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(&tpl); err == nil {
			if err := r.cache.Set(ctx, cacheKey, data, 0); err != nil {
				logger.Warn("Failed to cache template %s: %v", code, err)
			}
		}
	}

	return &tpl, nil
}

// RecipientListsFor returns the recipient lists joined to a template
func (r *TemplateRepository) RecipientListsFor(ctx context.Context, templateID int64) ([]EmailRecipientList, error) {
	var lists []EmailRecipientList
	err := r.db.NewSelect().
		Model(&lists).
		Join("JOIN email_template_lists AS tl ON tl.list_id = erl.id").
		Where("tl.template_id = ?", templateID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient lists for template %d: %w", templateID, err)
	}
	return lists, nil
}

// FindListByName loads a recipient list by its unique name
func (r *TemplateRepository) FindListByName(ctx context.Context, name string) (*EmailRecipientList, error) {
	var list EmailRecipientList
	err := r.db.NewSelect().
		Model(&list).
		Where("name = ?", name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient list not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient list %s: %w", name, err)
	}
	return &list, nil
}

// Recipients decodes the JSON recipient arrays of a list
func (l *EmailRecipientList) Recipients() (to, cc, bcc []string) {
	to = decodeRecipients(l.To)
	cc = decodeRecipients(l.Cc)
	bcc = decodeRecipients(l.Bcc)
	return to, cc, bcc
}

func decodeRecipients(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logger.Warn("Unreadable recipient list column: %v", err)
		return nil
	}
	return out
}
