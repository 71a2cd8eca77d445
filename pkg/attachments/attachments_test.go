package attachments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfplatform/eventfabric/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AttachmentsConfig{BackendBase: srv.URL, APIKey: "test-key"})
}

func TestFetchAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attachments/10/download", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 data"))
	})

	att, err := c.Fetch(context.Background(), "10")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("%PDF-1.4 data"), att.Data)
}

func TestFetchFallbackFilename(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	})

	att, err := c.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "attachment_42", att.Filename)
}

func TestFetchNonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Fetch(context.Background(), "11")
	assert.Error(t, err)
}

func TestFetchEmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.Fetch(context.Background(), "12")
	assert.Error(t, err)
}

func TestDeleteContinuesAfterFailure(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("hard"))
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/attachments/2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	c.Delete(context.Background(), []string{"1", "2", "3"})
	assert.Equal(t, []string{
		"/api/attachments/1",
		"/api/attachments/2",
		"/api/attachments/3",
	}, paths)
}

func TestFilenameFromVariants(t *testing.T) {
	assert.Equal(t, "a.txt", filenameFrom(`attachment; filename=a.txt`, "9"))
	assert.Equal(t, "b c.pdf", filenameFrom(`attachment; filename="b c.pdf"`, "9"))
	assert.Equal(t, "attachment_9", filenameFrom("attachment", "9"))
	assert.Equal(t, "attachment_9", filenameFrom("", "9"))
}
