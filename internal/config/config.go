package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marketfetcher/internal/breaker"
	"marketfetcher/internal/candle"
	"marketfetcher/internal/fetcher"
	"marketfetcher/internal/ratelimit"
	"marketfetcher/internal/selector"
)

// Provider identifiers accepted by primary_provider and secondary_provider.
const (
	ProviderPolygon      = "polygon"
	ProviderYahoo        = "yahoo"
	ProviderAlphavantage = "alphavantage"
	ProviderNone         = "none"
)

// Config holds all configuration for the market fetcher application.
type Config struct {
	// API Keys for the keyed providers
	PolygonAPIKey      string `mapstructure:"polygon_api_key"`
	AlphavantageAPIKey string `mapstructure:"alphavantage_api_key"`

	// Base URLs for API endpoints (configurable for testing)
	PolygonBaseURL      string `mapstructure:"polygon_base_url"`
	YahooBaseURL        string `mapstructure:"yahoo_base_url"`
	AlphavantageBaseURL string `mapstructure:"alphavantage_base_url"`

	// Which providers to ask, in order
	PrimaryProvider   string `mapstructure:"primary_provider"`
	SecondaryProvider string `mapstructure:"secondary_provider"`

	Selection        selector.Config             `mapstructure:"selection"`
	Breaker          breaker.Settings            `mapstructure:"breaker"`
	BreakerOverrides map[string]breaker.Settings `mapstructure:"breakers"`
	RateLimits       map[string]ratelimit.Limit  `mapstructure:"rate_limits"`
	HTTP             fetcher.ClientOptions       `mapstructure:"http"`

	// Optional response cache; disabled when RedisAddr is empty
	RedisAddr string        `mapstructure:"redis_addr"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// Optional Prometheus endpoint; disabled when empty
	MetricsAddr string `mapstructure:"metrics_addr"`

	// What to fetch
	Symbols      []string         `mapstructure:"symbols"`
	Timeframe    candle.Timeframe `mapstructure:"timeframe"`
	LookbackDays int              `mapstructure:"lookback_days"`
	Concurrency  int              `mapstructure:"concurrency"`
	Validate     bool             `mapstructure:"validate"`

	LogLevel string `mapstructure:"log_level"`
}

// HasSecondary reports whether a fallback provider is configured.
func (c *Config) HasSecondary() bool {
	return c.SecondaryProvider != "" && c.SecondaryProvider != ProviderNone
}

// Load reads configuration from environment variables and optional config file.
// Environment variables take precedence over config file values. Nested keys
// map to underscored names, e.g. selection.quality_threshold is read from
// SELECTION_QUALITY_THRESHOLD.
//
// Expected environment variables:
//   - POLYGON_API_KEY (required when polygon is a configured provider)
//   - ALPHAVANTAGE_API_KEY (required when alphavantage is a configured provider)
//   - SYMBOLS (comma separated)
//   - POLYGON_BASE_URL, YAHOO_BASE_URL, ALPHAVANTAGE_BASE_URL (optional, defaults to production)
//   - REDIS_ADDR, METRICS_ADDR (optional)
func Load() (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Optionally read from config file if it exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.marketfetcher")

	// Read config file (ignore if not found)
	_ = v.ReadInConfig()

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal
	v.BindEnv("polygon_api_key", "POLYGON_API_KEY")
	v.BindEnv("alphavantage_api_key", "ALPHAVANTAGE_API_KEY")
	v.BindEnv("redis_addr", "REDIS_ADDR")
	v.BindEnv("metrics_addr", "METRICS_ADDR")
	v.BindEnv("symbols", "SYMBOLS")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("polygon_base_url", "https://api.polygon.io")
	v.SetDefault("yahoo_base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("alphavantage_base_url", "https://www.alphavantage.co")

	v.SetDefault("primary_provider", ProviderPolygon)
	v.SetDefault("secondary_provider", ProviderYahoo)

	sel := selector.DefaultConfig()
	v.SetDefault("selection.quality_threshold", sel.QualityThreshold)
	v.SetDefault("selection.tie_band", sel.TieBand)
	v.SetDefault("selection.fallback_enabled", sel.FallbackEnabled)
	v.SetDefault("selection.provider_timeout", sel.ProviderTimeout)

	br := breaker.DefaultSettings()
	v.SetDefault("breaker.failure_threshold", br.FailureThreshold)
	v.SetDefault("breaker.recovery_timeout", br.RecoveryTimeout)
	v.SetDefault("breaker.success_threshold", br.SuccessThreshold)

	v.SetDefault("rate_limits", map[string]any{
		"polygon-api":      map[string]any{"requests_per_second": 5, "burst": 5},
		"yahoo-api":        map[string]any{"requests_per_second": 2, "burst": 2},
		"alphavantage-api": map[string]any{"requests_per_second": 0.2, "burst": 1},
	})

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.retry_count", 3)
	v.SetDefault("http.retry_wait_time", time.Second)
	v.SetDefault("http.retry_max_wait_time", 10*time.Second)

	v.SetDefault("cache_ttl", 5*time.Minute)

	v.SetDefault("timeframe", string(candle.Timeframe1d))
	v.SetDefault("lookback_days", 30)
	v.SetDefault("concurrency", 4)
	v.SetDefault("validate", true)
	v.SetDefault("log_level", "info")
}

func (c *Config) validate() error {
	if !knownProvider(c.PrimaryProvider) {
		return fmt.Errorf("invalid configuration: unknown primary_provider %q", c.PrimaryProvider)
	}
	if c.HasSecondary() {
		if !knownProvider(c.SecondaryProvider) {
			return fmt.Errorf("invalid configuration: unknown secondary_provider %q", c.SecondaryProvider)
		}
		if c.SecondaryProvider == c.PrimaryProvider {
			return fmt.Errorf("invalid configuration: primary and secondary provider are both %q", c.PrimaryProvider)
		}
	}

	// Validate required fields
	var missing []string
	if c.uses(ProviderPolygon) && c.PolygonAPIKey == "" {
		missing = append(missing, "POLYGON_API_KEY")
	}
	if c.uses(ProviderAlphavantage) && c.AlphavantageAPIKey == "" {
		missing = append(missing, "ALPHAVANTAGE_API_KEY")
	}
	if len(c.Symbols) == 0 {
		missing = append(missing, "SYMBOLS")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if t := c.Selection.QualityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("invalid configuration: quality_threshold %v outside [0, 1]", t)
	}
	if c.Selection.TieBand < 0 {
		return fmt.Errorf("invalid configuration: tie_band %v is negative", c.Selection.TieBand)
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("invalid configuration: unsupported timeframe %q", c.Timeframe)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("invalid configuration: lookback_days must be positive, got %d", c.LookbackDays)
	}

	return nil
}

func (c *Config) uses(provider string) bool {
	return c.PrimaryProvider == provider || (c.HasSecondary() && c.SecondaryProvider == provider)
}

func knownProvider(p string) bool {
	switch p {
	case ProviderPolygon, ProviderYahoo, ProviderAlphavantage:
		return true
	}
	return false
}
