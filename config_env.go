package authcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig is the flat environment-variable surface. Only deployment-shaped
// settings are exposed here; programmatic knobs (hooks, adapters, providers)
// stay in code.
type envConfig struct {
	AppName        string        `env:"AUTHCORE_APP_NAME"`
	BaseURL        string        `env:"AUTHCORE_BASE_URL"`
	BasePath       string        `env:"AUTHCORE_BASE_PATH"`
	Secret         string        `env:"AUTHCORE_SECRET"`
	TrustedOrigins []string      `env:"AUTHCORE_TRUSTED_ORIGINS" envSeparator:","`
	Production     bool          `env:"AUTHCORE_PRODUCTION"`
	SessionTTL     time.Duration `env:"AUTHCORE_SESSION_TTL"`
	UpdateAge      time.Duration `env:"AUTHCORE_SESSION_UPDATE_AGE"`
	CookieDomain   string        `env:"AUTHCORE_COOKIE_DOMAIN"`
	CookiePrefix   string        `env:"AUTHCORE_COOKIE_PREFIX"`
	RateLimitMax   int           `env:"AUTHCORE_RATE_LIMIT_MAX"`
	RateLimitWin   time.Duration `env:"AUTHCORE_RATE_LIMIT_WINDOW"`
}

// ConfigFromEnv returns the default config overlaid with AUTHCORE_* variables.
// Unset variables leave the defaults untouched; the result is not validated
// until Build.
func ConfigFromEnv() (Config, error) {
	cfg := defaultConfig()

	var e envConfig
	if err := env.Parse(&e); err != nil {
		return cfg, fmt.Errorf("config from env: %w", err)
	}

	if e.AppName != "" {
		cfg.AppName = e.AppName
	}
	if e.BaseURL != "" {
		cfg.BaseURL = e.BaseURL
	}
	if e.BasePath != "" {
		cfg.BasePath = e.BasePath
	}
	if e.Secret != "" {
		cfg.Secret = e.Secret
	}
	if len(e.TrustedOrigins) > 0 {
		cfg.TrustedOrigins = e.TrustedOrigins
	}
	if e.Production {
		cfg.Production = true
	}
	if e.SessionTTL > 0 {
		cfg.Session.TTL = e.SessionTTL
	}
	if e.UpdateAge > 0 {
		cfg.Session.UpdateAge = e.UpdateAge
	}
	if e.CookieDomain != "" {
		cfg.Cookies.Domain = e.CookieDomain
	}
	if e.CookiePrefix != "" {
		cfg.Cookies.Prefix = e.CookiePrefix
	}
	if e.RateLimitMax > 0 {
		cfg.RateLimit.Max = e.RateLimitMax
	}
	if e.RateLimitWin > 0 {
		cfg.RateLimit.Window = e.RateLimitWin
	}

	return cfg, nil
}
