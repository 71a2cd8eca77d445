package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfplatform/eventfabric/pkg/cache"
	"github.com/tfplatform/eventfabric/pkg/config"
)

func TestNormalizeContainerCode(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		expected   string
	}{
		{"gbtu strips leading zeros", "GBTU0281810", "GBTU*28181.0"},
		{"gbtu no leading zeros", "GBTU281810", "GBTU*28181.0"},
		{"gbtu all zeros keeps last two", "GBTU0000005", "GBTU*0.5"},
		{"brnd strips leading zeros", "BRND000123", "BRND*123"},
		{"brnd all zeros", "BRND0000", "BRND*0"},
		{"brnd non-digit body unchanged", "BRNDX23", "BRNDX23"},
		{"unknown prefix unchanged", "MSCU1234567", "MSCU1234567"},
		{"gbtu single digit unchanged", "GBTU7", "GBTU7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeContainerCode(tt.identifier))
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.EnrichmentConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
}

func TestLookupContainerNormalizesQuery(t *testing.T) {
	var gotQuery, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`[{"id":4,"unitType":"c","cassa":"CONT-9912"}]`))
	})

	result := c.Lookup(context.Background(), "GBTU0281810", TypeCodeContainer)

	assert.Equal(t, "GBTU*28181.0", gotQuery)
	assert.Equal(t, "test-key", gotKey)
	require.NotNil(t, result.ContainerNumber)
	assert.Equal(t, "CONT-9912", *result.ContainerNumber)
	assert.Nil(t, result.IDTrailer)
	assert.Nil(t, result.IDVehicle)
}

func TestLookupContainerBrandQuery(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`[]`))
	})

	result := c.Lookup(context.Background(), "BRND000123", TypeCodeContainer)

	assert.Equal(t, "BRND*123", gotQuery)
	assert.True(t, result.Empty())
}

func TestLookupContainerWrongUnitTypeIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":4,"unitType":"t","cassa":"CONT-9912"}]`))
	})

	result := c.Lookup(context.Background(), "GBTU0281810", TypeCodeContainer)
	assert.True(t, result.Empty())
}

func TestLookupVehicleFromSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeVehicles"))
		w.Write([]byte(`[{"id":7,"unitType":"v"}]`))
	})

	result := c.Lookup(context.Background(), "AB123CD", "")

	require.NotNil(t, result.IDVehicle)
	assert.Equal(t, int64(7), *result.IDVehicle)
}

func TestLookupTrailerFromSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":12,"unitType":"t"}]`))
	})

	result := c.Lookup(context.Background(), "TRL-44", "TRAILER")

	require.NotNil(t, result.IDTrailer)
	assert.Equal(t, int64(12), *result.IDTrailer)
}

func TestLookupFallsBackToPlate(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/units/search" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{"status":"success","data":{"id_vehicle":9}}`))
	})

	result := c.Lookup(context.Background(), "AB123CD", "")

	assert.Equal(t, []string{"/api/units/search", "/api/vehicles/by-plate/AB123CD"}, paths)
	require.NotNil(t, result.IDVehicle)
	assert.Equal(t, int64(9), *result.IDVehicle)
}

func TestLookupPlateNonSuccessIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/units/search" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`{"status":"error"}`))
	})

	result := c.Lookup(context.Background(), "AB123CD", "")
	assert.True(t, result.Empty())
}

func TestLookupServerErrorIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	result := c.Lookup(context.Background(), "GBTU0281810", TypeCodeContainer)
	assert.True(t, result.Empty())
}

func TestLookupCachesResolvedResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[{"id":7,"unitType":"v"}]`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(config.EnrichmentConfig{BaseURL: srv.URL},
		cache.NewMemoryProvider(cache.MemoryConfig{}))

	first := c.Lookup(context.Background(), "AB123CD", "")
	second := c.Lookup(context.Background(), "AB123CD", "")

	require.NotNil(t, first.IDVehicle)
	require.NotNil(t, second.IDVehicle)
	assert.Equal(t, 1, calls)
}

func TestLookupDoesNotCacheEmptyResults(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			// catalogue briefly unavailable: unit search and plate
			// fallback both fail
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id":7,"unitType":"v"}]`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(config.EnrichmentConfig{BaseURL: srv.URL},
		cache.NewMemoryProvider(cache.MemoryConfig{}))

	assert.True(t, c.Lookup(context.Background(), "AB123CD", "").Empty())

	// The failure was not cached; the next lookup resolves
	result := c.Lookup(context.Background(), "AB123CD", "")
	require.NotNil(t, result.IDVehicle)
	assert.Equal(t, int64(7), *result.IDVehicle)
}

func TestLookupEmptyIdentifier(t *testing.T) {
	c := NewClient(config.EnrichmentConfig{BaseURL: "http://unused"}, nil)
	assert.True(t, c.Lookup(context.Background(), "", TypeCodeContainer).Empty())
}
