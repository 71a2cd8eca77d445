// Package enrichment resolves unit identifiers against the external asset
// catalogue. Lookups never fail the caller: any transport or decoding problem
// is warn-logged and reported as an empty result.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/tfplatform/eventfabric/pkg/cache"
	"github.com/tfplatform/eventfabric/pkg/config"
	"github.com/tfplatform/eventfabric/pkg/logger"
	"github.com/tfplatform/eventfabric/pkg/metrics"
)

// TypeCodeContainer selects the container lookup branch; any other type code
// goes through the trailer/vehicle search with the plate fallback
const TypeCodeContainer = "CONTAINER"

// Lookup is the catalogue's answer for one identifier. At most one of the
// three fields is set; all nil means the catalogue knows nothing.
type Lookup struct {
	ContainerNumber *string `json:"container_number,omitempty"`
	IDTrailer       *int64  `json:"id_trailer,omitempty"`
	IDVehicle       *int64  `json:"id_vehicle,omitempty"`
}

// Empty reports whether the lookup resolved nothing
func (l Lookup) Empty() bool {
	return l.ContainerNumber == nil && l.IDTrailer == nil && l.IDVehicle == nil
}

// Client queries the catalogue HTTP API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Provider
	cacheTTL   time.Duration
}

// NewClient builds a catalogue client. The cache provider is optional.
func NewClient(cfg config.EnrichmentConfig, cacheProvider cache.Provider) *Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 5 * time.Second
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		limiter:  limiter,
		cache:    cacheProvider,
		cacheTTL: cfg.CacheTTL,
	}
}

// Lookup resolves an identifier to its catalogue ids. Containers go through
// the normalized unit search; anything else tries the unit search first and
// falls back to the vehicle plate endpoint.
func (c *Client) Lookup(ctx context.Context, identifier, typeCode string) Lookup {
	if identifier == "" {
		return Lookup{}
	}

	cacheKey := fmt.Sprintf("enrichment:%s:%s", typeCode, identifier)
	if cached, ok := c.fromCache(ctx, cacheKey); ok {
		return cached
	}

	start := time.Now()
	var result Lookup
	if typeCode == TypeCodeContainer {
		result = c.lookupContainer(ctx, identifier)
	} else {
		result = c.lookupUnit(ctx, identifier)
	}

	status := "hit"
	if result.Empty() {
		status = "empty"
	}
	metrics.GetProvider().RecordEnrichmentLookup(status, time.Since(start))

	// Only resolved lookups are cached: an empty result may be a transient
	// catalogue failure and must not stick for the TTL
	if !result.Empty() {
		c.toCache(ctx, cacheKey, result)
	}
	return result
}

func (c *Client) lookupContainer(ctx context.Context, identifier string) Lookup {
	q := NormalizeContainerCode(identifier)
	body, err := c.get(ctx, "/api/units/search?q="+url.QueryEscape(q)+"&limit=1")
	if err != nil {
		logger.Warn("Container lookup failed for %s: %v", identifier, err)
		return Lookup{}
	}

	first := gjson.GetBytes(body, "0")
	if !first.Exists() || first.Get("unitType").String() != "c" {
		return Lookup{}
	}
	cassa := first.Get("cassa").String()
	if cassa == "" {
		return Lookup{}
	}
	return Lookup{ContainerNumber: &cassa}
}

func (c *Client) lookupUnit(ctx context.Context, identifier string) Lookup {
	body, err := c.get(ctx, "/api/units/search?q="+url.QueryEscape(identifier)+"&limit=1&includeVehicles=true")
	if err != nil {
		logger.Warn("Unit lookup failed for %s: %v", identifier, err)
		return c.lookupByPlate(ctx, identifier)
	}

	first := gjson.GetBytes(body, "0")
	if first.Exists() {
		id := first.Get("id").Int()
		switch first.Get("unitType").String() {
		case "t":
			return Lookup{IDTrailer: &id}
		case "v":
			return Lookup{IDVehicle: &id}
		}
	}
	return c.lookupByPlate(ctx, identifier)
}

func (c *Client) lookupByPlate(ctx context.Context, plate string) Lookup {
	body, err := c.get(ctx, "/api/vehicles/by-plate/"+url.PathEscape(plate))
	if err != nil {
		logger.Warn("Plate lookup failed for %s: %v", plate, err)
		return Lookup{}
	}

	if gjson.GetBytes(body, "status").String() != "success" {
		return Lookup{}
	}
	idVehicle := gjson.GetBytes(body, "data.id_vehicle")
	if !idVehicle.Exists() {
		return Lookup{}
	}
	id := idVehicle.Int()
	return Lookup{IDVehicle: &id}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) fromCache(ctx context.Context, key string) (Lookup, bool) {
	if c.cache == nil {
		return Lookup{}, false
	}
	data, ok := c.cache.Get(ctx, key)
	if !ok {
		return Lookup{}, false
	}
	var result Lookup
	if err := json.Unmarshal(data, &result); err != nil {
		return Lookup{}, false
	}
	return result, true
}

func (c *Client) toCache(ctx context.Context, key string, result Lookup) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		logger.Debug("Failed to cache enrichment result: %v", err)
	}
}
