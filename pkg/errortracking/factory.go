package errortracking

import (
	"fmt"
)

// Config selects and configures the error tracking provider
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	Provider    string  `mapstructure:"provider"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	Release     string  `mapstructure:"release"`
	Debug       bool    `mapstructure:"debug"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// NewProviderFromConfig creates an error tracking provider based on the configuration
func NewProviderFromConfig(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return NewNoOpProvider(), nil
	}

	switch cfg.Provider {
	case "sentry":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sentry DSN is required when error tracking is enabled")
		}
		return NewSentryProvider(SentryConfig{
			DSN:         cfg.DSN,
			Environment: cfg.Environment,
			Release:     cfg.Release,
			Debug:       cfg.Debug,
			SampleRate:  cfg.SampleRate,
		})
	case "noop", "":
		return NewNoOpProvider(), nil
	default:
		return nil, fmt.Errorf("unknown error tracking provider: %s", cfg.Provider)
	}
}
