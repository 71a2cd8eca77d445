package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tfplatform/eventfabric/pkg/errortracking"
)

// Config is the root configuration for the fabric
type Config struct {
	Logging       LoggingConfig        `mapstructure:"logging"`
	ErrorTracking errortracking.Config `mapstructure:"error_tracking"`
	Metrics       MetricsConfig        `mapstructure:"metrics"`
	Database      DatabaseConfig       `mapstructure:"database"`
	Gateway       GatewayConfig        `mapstructure:"gateway"`
	Streams       StreamsConfig        `mapstructure:"streams"`
	Enrichment    EnrichmentConfig     `mapstructure:"enrichment"`
	Mailer        MailerConfig         `mapstructure:"mailer"`
	Attachments   AttachmentsConfig    `mapstructure:"attachments"`
	Notifier      NotifierConfig       `mapstructure:"notifier"`
	Cache         CacheConfig          `mapstructure:"cache"`
	Control       ControlConfig        `mapstructure:"control"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Path        string `mapstructure:"path"`
}

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Provider string `mapstructure:"provider"`
}

// DatabaseConfig configures the shared connection pool
type DatabaseConfig struct {
	// DSN takes precedence over the individual parameters below
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ReconnectionConfig controls broker reconnection behaviour
type ReconnectionConfig struct {
	RetryInterval      time.Duration `mapstructure:"retry_interval"`
	Multiplier         float64       `mapstructure:"multiplier"`
	MaxRetryInterval   time.Duration `mapstructure:"max_retry_interval"`
	Attempts           int           `mapstructure:"attempts"` // -1 = infinite
	FailureCheckPeriod time.Duration `mapstructure:"failure_check_period"`
	ConnectionTTL      time.Duration `mapstructure:"connection_ttl"`
	RecoveryInterval   time.Duration `mapstructure:"recovery_interval"`
}

// GatewayConfig configures the broker listener manager
type GatewayConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`

	// StreamName is the JetStream stream holding all configured addresses
	StreamName string `mapstructure:"stream_name"`

	Addresses []string `mapstructure:"addresses"`

	// SubscriberName names the durable shared subscription. Empty means a
	// plain anycast consumer. Non-empty consumers share progress under the
	// name subscriberName + "." + address.
	SubscriberName string `mapstructure:"subscriber_name"`

	// Concurrency is a "min-max" band for receivers per address
	Concurrency string `mapstructure:"concurrency"`

	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	Reconnection ReconnectionConfig `mapstructure:"reconnection"`

	// StreamMapping maps a broker address to the stream key records are
	// published to. Addresses without a mapping are persisted but not
	// published.
	StreamMapping map[string]string `mapstructure:"stream_mapping"`

	// AcknowledgeMessages suppresses acknowledgement when set to false,
	// forcing broker redelivery. Debug aid only; unset means acknowledge.
	AcknowledgeMessages *bool `mapstructure:"acknowledge_messages"`
}

// IsAcknowledgeMessages reports the acknowledge_messages flag, defaulting to
// true
func (g *GatewayConfig) IsAcknowledgeMessages() bool {
	if g.AcknowledgeMessages == nil {
		return true
	}
	return *g.AcknowledgeMessages
}

// ConcurrencyBand parses the "min-max" concurrency setting
func (g *GatewayConfig) ConcurrencyBand() (minC, maxC int, err error) {
	s := strings.TrimSpace(g.Concurrency)
	if s == "" {
		return 1, 1, nil
	}
	parts := strings.SplitN(s, "-", 2)
	minC, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid concurrency %q: %w", g.Concurrency, err)
	}
	maxC = minC
	if len(parts) == 2 {
		maxC, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid concurrency %q: %w", g.Concurrency, err)
		}
	}
	if minC < 1 || maxC < minC {
		return 0, 0, fmt.Errorf("invalid concurrency band %q", g.Concurrency)
	}
	return minC, maxC, nil
}

// StreamsConfig configures the Redis stream store
type StreamsConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// PollTimeoutSeconds bounds the blocking XREADGROUP poll
	PollTimeoutSeconds int `mapstructure:"poll_timeout_seconds"`

	// ConsumerName overrides the hostname-derived consumer id
	ConsumerName string `mapstructure:"consumer_name"`

	// MaxLen trims streams approximately to this length (0 = unlimited)
	MaxLen int64 `mapstructure:"max_len"`
}

// EnrichmentConfig configures the catalogue lookup client
type EnrichmentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RateLimit      float64       `mapstructure:"rate_limit"` // lookups per second, 0 = unlimited
	RateBurst      int           `mapstructure:"rate_burst"`
}

// MailerConfig configures SMTP submission
type MailerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	StartTLS    bool   `mapstructure:"starttls"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	FooterHTML  string `mapstructure:"footer_html"`
	FooterText  string `mapstructure:"footer_text"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// AttachmentsConfig configures the attachment backend client
type AttachmentsConfig struct {
	BackendBase      string        `mapstructure:"backend_base"`
	DownloadEndpoint string        `mapstructure:"download_endpoint"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// EventMappingConfig routes a stream event to an email action
type EventMappingConfig struct {
	Stream             string `mapstructure:"stream"`
	EventType          string `mapstructure:"event_type"`
	TemplateCode       string `mapstructure:"template_code"`
	ConsumerGroup      string `mapstructure:"consumer_group"`
	EventTypeField     string `mapstructure:"event_type_field"`
	AutoAck            *bool  `mapstructure:"auto_ack"`
	SingleMail         bool   `mapstructure:"single_mail"`
	EmailListSpecified bool   `mapstructure:"email_list_specified"`
	EmailSenderName    string `mapstructure:"email_sender_name"`
	DirectEmail        bool   `mapstructure:"direct_email"`
}

// IsAutoAck reports the auto_ack flag, defaulting to true
func (m *EventMappingConfig) IsAutoAck() bool {
	if m.AutoAck == nil {
		return true
	}
	return *m.AutoAck
}

// NotifierConfig configures the notification dispatcher
type NotifierConfig struct {
	Mappings []EventMappingConfig `mapstructure:"mappings"`
}

// CacheConfig configures the shared cache layer
type CacheConfig struct {
	Provider         string        `mapstructure:"provider"` // memory, redis, memcached
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db"`
	MemcachedServers []string      `mapstructure:"memcached_servers"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
}

// ControlConfig configures the control-plane HTTP listener
type ControlConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ApplyDefaults fills in any missing values with defaults
func (c *Config) ApplyDefaults() {
	if c.Gateway.StreamName == "" {
		c.Gateway.StreamName = "EVENTS"
	}
	if c.Gateway.Concurrency == "" {
		c.Gateway.Concurrency = "1-1"
	}
	if c.Gateway.RetryAttempts == 0 {
		c.Gateway.RetryAttempts = 3
	}
	if c.Gateway.RetryDelay == 0 {
		c.Gateway.RetryDelay = 2 * time.Second
	}
	if c.Gateway.Reconnection.RetryInterval == 0 {
		c.Gateway.Reconnection.RetryInterval = 2 * time.Second
	}
	if c.Gateway.Reconnection.Multiplier == 0 {
		c.Gateway.Reconnection.Multiplier = 2.0
	}
	if c.Gateway.Reconnection.MaxRetryInterval == 0 {
		c.Gateway.Reconnection.MaxRetryInterval = 30 * time.Second
	}
	if c.Gateway.Reconnection.Attempts == 0 {
		c.Gateway.Reconnection.Attempts = -1
	}
	if c.Streams.Addr == "" {
		c.Streams.Addr = "localhost:6379"
	}
	if c.Streams.PoolSize == 0 {
		c.Streams.PoolSize = 10
	}
	if c.Streams.PollTimeoutSeconds == 0 {
		c.Streams.PollTimeoutSeconds = 5
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Enrichment.ConnectTimeout == 0 {
		c.Enrichment.ConnectTimeout = 5 * time.Second
	}
	if c.Enrichment.ReadTimeout == 0 {
		c.Enrichment.ReadTimeout = 10 * time.Second
	}
	if c.Attachments.DownloadEndpoint == "" {
		c.Attachments.DownloadEndpoint = "/api/attachments/{id}/download"
	}
	if c.Attachments.Timeout == 0 {
		c.Attachments.Timeout = 30 * time.Second
	}
	if c.Mailer.Port == 0 {
		c.Mailer.Port = 587
	}
	if c.Mailer.MaxRetries == 0 {
		c.Mailer.MaxRetries = 3
	}
	if c.Cache.Provider == "" {
		c.Cache.Provider = "memory"
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 10 * time.Minute
	}
	if c.Control.ListenAddr == "" {
		c.Control.ListenAddr = ":8080"
	}
}
