package fetcher

import (
	"time"

	"github.com/sells-group/provider-scraper/internal/config"
	"github.com/sells-group/provider-scraper/internal/model"
)

// LimitsFromConfig converts the configured rate limit table, keyed by source
// kind name, into limiter limits. Defaults fill kinds the config omits.
func LimitsFromConfig(cfg map[string]config.RateLimitConfig) map[model.SourceKind]Limits {
	out := DefaultLimits()
	for kind, rl := range cfg {
		out[model.SourceKind(kind)] = Limits{
			RequestsPerMinute: rl.RequestsPerMinute,
			DailyLimit:        rl.DailyLimit,
			Delay:             time.Duration(rl.DelayMs) * time.Millisecond,
		}
	}
	return out
}

// BackoffFromConfig converts the configured backoff settings.
func BackoffFromConfig(cfg config.BackoffConfig) BackoffPolicy {
	return BackoffPolicy{
		Initial:    time.Duration(cfg.InitialSecs * float64(time.Second)),
		Max:        time.Duration(cfg.MaxSecs * float64(time.Second)),
		Multiplier: cfg.Multiplier,
	}
}

// OptionsFromConfig builds client options from the HTTP config.
func OptionsFromConfig(cfg config.HTTPConfig) Options {
	return Options{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout(),
		MaxRetries:   cfg.MaxRetries,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
}
