// Package attachments fetches and deletes mail attachments through the
// backend HTTP API.
package attachments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
)

const defaultDownloadEndpoint = "/api/attachments/{id}/download"

// Attachment is a downloaded file ready for MIME embedding
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// Client talks to the attachment backend
type Client struct {
	backendBase      string
	downloadEndpoint string
	apiKey           string
	httpClient       *http.Client
}

// NewClient builds an attachment client from configuration
func NewClient(cfg config.AttachmentsConfig) *Client {
	endpoint := cfg.DownloadEndpoint
	if endpoint == "" {
		endpoint = defaultDownloadEndpoint
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		backendBase:      strings.TrimRight(cfg.BackendBase, "/"),
		downloadEndpoint: endpoint,
		apiKey:           cfg.APIKey,
		httpClient:       &http.Client{Timeout: timeout},
	}
}

// Fetch downloads one attachment. A non-200 response or an empty body is an
// error.
func (c *Client) Fetch(ctx context.Context, id string) (*Attachment, error) {
	url := c.backendBase + strings.Replace(c.downloadEndpoint, "{id}", id, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment %s download failed: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment %s download returned status %d", id, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("attachment %s read failed: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("attachment %s is empty", id)
	}

	return &Attachment{
		ID:          id,
		Filename:    filenameFrom(resp.Header.Get("Content-Disposition"), id),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Delete hard-deletes attachments one by one. Individual failures are
// warn-logged and the rest are still attempted.
func (c *Client) Delete(ctx context.Context, ids []string) {
	for _, id := range ids {
		url := fmt.Sprintf("%s/api/attachments/%s?hard=true", c.backendBase, id)
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
		if err != nil {
			logger.Warn("Failed to build delete request for attachment %s: %v", id, err)
			continue
		}
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Warn("Failed to delete attachment %s: %v", id, err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Warn("Delete of attachment %s returned status %d", id, resp.StatusCode)
		}
	}
}

// filenameFrom extracts the filename from a Content-Disposition header,
// stripping surrounding quotes
func filenameFrom(disposition, id string) string {
	fallback := "attachment_" + id
	if disposition == "" {
		return fallback
	}
	for _, part := range strings.Split(disposition, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "filename=") {
			continue
		}
		name := strings.TrimSpace(part[len("filename="):])
		name = strings.Trim(name, `"`)
		if name != "" {
			return name
		}
	}
	return fallback
}
