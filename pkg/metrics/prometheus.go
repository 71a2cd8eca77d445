package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements the Provider interface using Prometheus
type PrometheusProvider struct {
	brokerMessageDuration *prometheus.HistogramVec
	brokerMessageTotal    *prometheus.CounterVec
	streamPublishTotal    *prometheus.CounterVec
	processorDuration     *prometheus.HistogramVec
	processorTotal        *prometheus.CounterVec
	emailSendTotal        *prometheus.CounterVec
	enrichmentDuration    *prometheus.HistogramVec
	enrichmentTotal       *prometheus.CounterVec
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
	activeConsumers       *prometheus.GaugeVec
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider() *PrometheusProvider {
	return &PrometheusProvider{
		brokerMessageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_message_duration_seconds",
				Help:    "Broker message handling duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"address", "status"},
		),
		brokerMessageTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_messages_total",
				Help: "Total number of messages received from the source broker",
			},
			[]string{"address", "status"},
		),
		streamPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_publishes_total",
				Help: "Total number of records published to the stream store",
			},
			[]string{"stream", "status"},
		),
		processorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "processor_duration_seconds",
				Help:    "Stream processor invocation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"processor", "outcome"},
		),
		processorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "processor_invocations_total",
				Help: "Total number of stream processor invocations",
			},
			[]string{"processor", "outcome"},
		),
		emailSendTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_sends_total",
				Help: "Total number of email delivery attempts",
			},
			[]string{"template_code", "status"},
		),
		enrichmentDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enrichment_lookup_duration_seconds",
				Help:    "Enrichment catalogue lookup duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		enrichmentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enrichment_lookups_total",
				Help: "Total number of enrichment catalogue lookups",
			},
			[]string{"status"},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"provider"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"provider"},
		),
		activeConsumers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_active_consumers",
				Help: "Active broker consumers per address",
			},
			[]string{"address"},
		),
	}
}

func (p *PrometheusProvider) RecordBrokerMessage(address, status string, duration time.Duration) {
	p.brokerMessageDuration.WithLabelValues(address, status).Observe(duration.Seconds())
	p.brokerMessageTotal.WithLabelValues(address, status).Inc()
}

func (p *PrometheusProvider) RecordStreamPublish(stream, status string) {
	p.streamPublishTotal.WithLabelValues(stream, status).Inc()
}

func (p *PrometheusProvider) RecordProcessorResult(processor, outcome string, duration time.Duration) {
	p.processorDuration.WithLabelValues(processor, outcome).Observe(duration.Seconds())
	p.processorTotal.WithLabelValues(processor, outcome).Inc()
}

func (p *PrometheusProvider) RecordEmailSend(templateCode, status string) {
	p.emailSendTotal.WithLabelValues(templateCode, status).Inc()
}

func (p *PrometheusProvider) RecordEnrichmentLookup(status string, duration time.Duration) {
	p.enrichmentDuration.WithLabelValues(status).Observe(duration.Seconds())
	p.enrichmentTotal.WithLabelValues(status).Inc()
}

func (p *PrometheusProvider) RecordCacheHit(provider string) {
	p.cacheHits.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) RecordCacheMiss(provider string) {
	p.cacheMisses.WithLabelValues(provider).Inc()
}

func (p *PrometheusProvider) UpdateActiveConsumers(address string, count int) {
	p.activeConsumers.WithLabelValues(address).Set(float64(count))
}

// Handler returns the Prometheus metrics HTTP handler
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}
