package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Google     GoogleConfig               `yaml:"google" mapstructure:"google"`
	HTTP       HTTPConfig                 `yaml:"http" mapstructure:"http"`
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits" mapstructure:"rate_limits"`
	Backoff    BackoffConfig              `yaml:"backoff" mapstructure:"backoff"`
	Robots     RobotsConfig               `yaml:"robots" mapstructure:"robots"`
	Scrape     ScrapeConfig               `yaml:"scrape" mapstructure:"scrape"`
	Store      StoreConfig                `yaml:"store" mapstructure:"store"`
	Log        LogConfig                  `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig           `yaml:"monitoring" mapstructure:"monitoring"`
}

// GoogleConfig holds credentials and endpoints for the Places and Custom
// Search APIs. A missing key disables the corresponding source.
type GoogleConfig struct {
	PlacesKey         string `yaml:"places_key" mapstructure:"places_key"`
	PlacesBaseURL     string `yaml:"places_base_url" mapstructure:"places_base_url"`
	PageTokenDelayMs  int    `yaml:"page_token_delay_ms" mapstructure:"page_token_delay_ms"`
	SearchKey         string `yaml:"search_key" mapstructure:"search_key"`
	SearchEngineID    string `yaml:"search_engine_id" mapstructure:"search_engine_id"`
	SearchBaseURL     string `yaml:"search_base_url" mapstructure:"search_base_url"`
	SearchResultCount int    `yaml:"search_result_count" mapstructure:"search_result_count"`
}

// PlacesEnabled reports whether a Places API key is configured.
func (g GoogleConfig) PlacesEnabled() bool { return g.PlacesKey != "" }

// SearchEnabled reports whether both Custom Search credentials are configured.
func (g GoogleConfig) SearchEnabled() bool { return g.SearchKey != "" && g.SearchEngineID != "" }

// PageTokenDelay is the wait before a next_page_token becomes valid.
func (g GoogleConfig) PageTokenDelay() time.Duration {
	return time.Duration(g.PageTokenDelayMs) * time.Millisecond
}

// HTTPConfig configures the shared fetch client.
type HTTPConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Timeout is the per-attempt request timeout.
func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSecs) * time.Second
}

// RateLimitConfig is the pacing and quota for one source kind. A zero
// DailyLimit means unlimited.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	DailyLimit        int `yaml:"daily_limit" mapstructure:"daily_limit"`
	DelayMs           int `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// BackoffConfig drives per-domain failure backoff.
type BackoffConfig struct {
	InitialSecs float64 `yaml:"initial_secs" mapstructure:"initial_secs"`
	MaxSecs     float64 `yaml:"max_secs" mapstructure:"max_secs"`
	Multiplier  float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect       bool   `yaml:"respect" mapstructure:"respect"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CacheDir      string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// CacheTTL is how long a robots policy stays fresh.
func (r RobotsConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLHours) * time.Hour
}

// ScrapeConfig bounds a single run.
type ScrapeConfig struct {
	MaxResults       int `yaml:"max_results" mapstructure:"max_results"`
	MaxErrors        int `yaml:"max_errors" mapstructure:"max_errors"`
	DetailsPaceMs    int `yaml:"details_pace_ms" mapstructure:"details_pace_ms"`
	SourceBufferSize int `yaml:"source_buffer_size" mapstructure:"source_buffer_size"`
}

// StoreConfig selects the persistence backend: json, sqlite or postgres.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures post-run alerting. An empty WebhookURL logs
// alerts without delivering them.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
}

// DefaultUserAgent identifies the scraper to the sites it visits.
const DefaultUserAgent = "OpenSlots-Scraper/0.1 (+https://openslots.example.com/bot)"

// Load reads configuration from .env, config.yaml and SCRAPER_* environment
// variables, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by the Google tooling.
	_ = v.BindEnv("google.places_key", "SCRAPER_GOOGLE_PLACES_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("google.search_key", "SCRAPER_GOOGLE_SEARCH_KEY", "GOOGLE_SEARCH_API_KEY")
	_ = v.BindEnv("google.search_engine_id", "SCRAPER_GOOGLE_SEARCH_ENGINE_ID", "GOOGLE_SEARCH_ENGINE_ID")
	_ = v.BindEnv("store.database_url", "SCRAPER_STORE_DATABASE_URL", "DATABASE_URL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google.places_base_url", "https://maps.googleapis.com/maps/api/place")
	v.SetDefault("google.page_token_delay_ms", 2000)
	v.SetDefault("google.search_base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("google.search_result_count", 5)
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.max_body_bytes", 5<<20)
	v.SetDefault("rate_limits.google_places.requests_per_minute", 50)
	v.SetDefault("rate_limits.google_places.daily_limit", 5000)
	v.SetDefault("rate_limits.google_places.delay_ms", 1200)
	v.SetDefault("rate_limits.website.requests_per_minute", 10)
	v.SetDefault("rate_limits.website.daily_limit", 0)
	v.SetDefault("rate_limits.website.delay_ms", 2000)
	v.SetDefault("rate_limits.directory.requests_per_minute", 20)
	v.SetDefault("rate_limits.directory.daily_limit", 0)
	v.SetDefault("rate_limits.directory.delay_ms", 1000)
	v.SetDefault("rate_limits.search.requests_per_minute", 60)
	v.SetDefault("rate_limits.search.daily_limit", 100)
	v.SetDefault("rate_limits.search.delay_ms", 1000)
	v.SetDefault("backoff.initial_secs", 1.0)
	v.SetDefault("backoff.max_secs", 60.0)
	v.SetDefault("backoff.multiplier", 2.0)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.cache_ttl_hours", 24)
	v.SetDefault("robots.cache_dir", "cache/robots")
	v.SetDefault("scrape.max_results", 500)
	v.SetDefault("scrape.max_errors", 50)
	v.SetDefault("scrape.details_pace_ms", 100)
	v.SetDefault("scrape.source_buffer_size", 16)
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.output_dir", "output")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.error_rate_threshold", 0.5)
}

// Validate checks that the configuration can serve the named command.
func (c *Config) Validate(command string) error {
	if c.HTTP.TimeoutSecs <= 0 {
		return eris.New("config: http.timeout_secs must be positive")
	}
	if c.HTTP.MaxRetries <= 0 {
		return eris.New("config: http.max_retries must be positive")
	}
	for kind, rl := range c.RateLimits {
		if rl.RequestsPerMinute <= 0 {
			return eris.Errorf("config: rate_limits.%s.requests_per_minute must be positive", kind)
		}
		if rl.DailyLimit < 0 || rl.DelayMs < 0 {
			return eris.Errorf("config: rate_limits.%s values must not be negative", kind)
		}
	}
	if c.Backoff.InitialSecs <= 0 || c.Backoff.MaxSecs < c.Backoff.InitialSecs || c.Backoff.Multiplier < 1 {
		return eris.New("config: backoff requires initial_secs > 0, max_secs >= initial_secs, multiplier >= 1")
	}

	if c.Monitoring.ErrorRateThreshold < 0 || c.Monitoring.ErrorRateThreshold > 1 {
		return eris.New("config: monitoring.error_rate_threshold must be between 0 and 1")
	}

	switch c.Store.Driver {
	case "json", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	switch command {
	case "search":
		if !c.Google.PlacesEnabled() && !c.Google.SearchEnabled() {
			return eris.New("config: search needs google.places_key or google.search_key with google.search_engine_id")
		}
	case "fetch", "stats", "robots", "config", "":
	default:
		return eris.Errorf("config: unknown command %q", command)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
