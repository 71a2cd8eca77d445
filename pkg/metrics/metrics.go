package metrics

import (
	"net/http"
	"time"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordBrokerMessage records a message received from the source broker
	RecordBrokerMessage(address, status string, duration time.Duration)

	// RecordStreamPublish records a publish to the stream store
	RecordStreamPublish(stream, status string)

	// RecordProcessorResult records the outcome of a stream processor invocation
	RecordProcessorResult(processor, outcome string, duration time.Duration)

	// RecordEmailSend records an email delivery attempt
	RecordEmailSend(templateCode, status string)

	// RecordEnrichmentLookup records an enrichment catalogue lookup
	RecordEnrichmentLookup(status string, duration time.Duration)

	// RecordCacheHit records a cache hit
	RecordCacheHit(provider string)

	// RecordCacheMiss records a cache miss
	RecordCacheMiss(provider string)

	// UpdateActiveConsumers updates the active consumer count for a broker address
	UpdateActiveConsumers(address string, count int)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordBrokerMessage(address, status string, duration time.Duration)    {}
func (n *NoOpProvider) RecordStreamPublish(stream, status string)                             {}
func (n *NoOpProvider) RecordProcessorResult(processor, outcome string, d time.Duration)      {}
func (n *NoOpProvider) RecordEmailSend(templateCode, status string)                           {}
func (n *NoOpProvider) RecordEnrichmentLookup(status string, duration time.Duration)          {}
func (n *NoOpProvider) RecordCacheHit(provider string)                                        {}
func (n *NoOpProvider) RecordCacheMiss(provider string)                                       {}
func (n *NoOpProvider) UpdateActiveConsumers(address string, count int)                       {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Metrics provider not configured"))
	})
}
