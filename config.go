package authcore

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the process-lifetime configuration snapshot. It is captured by
// [Builder.Build] and treated as immutable afterwards; request-scoped state
// never lives here.
type Config struct {
	// AppName appears in default cookie prefixes and audit metadata.
	AppName string
	// BaseURL is the externally visible origin of the application,
	// e.g. "https://app.example.com". Required.
	BaseURL string
	// BasePath is where the handler is mounted. Default "/api/auth".
	BasePath string
	// Secret signs session cookies and cache cookies. Required, >= 32 bytes.
	Secret string
	// TrustedOrigins are origin/hostname patterns accepted by the origin
	// guard and redirect validation. BaseURL's origin is always trusted.
	TrustedOrigins []string
	// Production toggles the secure defaults: rate limiting and enumeration
	// protection on, Secure cookies required.
	Production bool

	EmailPassword EmailPasswordConfig
	Session       SessionConfig
	Cookies       CookieConfig
	Verification  VerificationConfig
	OAuth         OAuthConfig
	RateLimit     RateLimitConfig
	Advanced      AdvancedConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
EMAIL + PASSWORD
====================================
*/

// EmailPasswordConfig controls the credential provider.
type EmailPasswordConfig struct {
	Enabled                  bool
	MinPasswordLength        int
	MaxPasswordLength        int
	RequireEmailVerification bool
	// AutoSignIn creates a session immediately after sign-up.
	AutoSignIn bool
}

/*
====================================
SESSION
====================================
*/

// SessionConfig controls session lifetime and caching.
type SessionConfig struct {
	// TTL is the session lifetime from creation or last refresh.
	TTL time.Duration
	// UpdateAge is the sliding-expiration threshold: a verification that
	// finds the session older than this extends ExpiresAt to now+TTL.
	UpdateAge time.Duration
	// DisableSlidingRefresh turns the extension off entirely.
	DisableSlidingRefresh bool
	// Retention decides the primary-row fate on secondary-storage revoke.
	Retention SessionRetention
	CookieCache CookieCacheConfig
}

// CookieCacheConfig controls the short-TTL serialized {session,user} cookie
// that avoids a storage round trip on every read.
type CookieCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

/*
====================================
COOKIES
====================================
*/

// CookieConfig controls attributes of every cookie the engine sets.
type CookieConfig struct {
	// Prefix prepends cookie names: "<prefix>.session_token". Default "authcore".
	Prefix string
	// Domain enables cross-subdomain sharing when set to the root domain.
	Domain   string
	Path     string
	SameSite http.SameSite
	// SecureOverride forces the Secure attribute; nil derives it from the
	// BaseURL scheme and Production.
	SecureOverride *bool
}

/*
====================================
VERIFICATION
====================================
*/

// VerificationConfig controls single-use token and OTP behavior.
type VerificationConfig struct {
	// DefaultTTL applies to email-verification and password-reset tokens.
	DefaultTTL time.Duration
	// OTPDigits is the length of numeric one-time codes.
	OTPDigits int
	// OTPAllowedAttempts bounds retries before the challenge is deleted.
	OTPAllowedAttempts int
}

/*
====================================
OAUTH
====================================
*/

// OAuthConfig controls the protocol client defaults shared by providers.
type OAuthConfig struct {
	// StateTTL bounds one authorization round trip. Default 10 minutes.
	StateTTL time.Duration
}

/*
====================================
RATE LIMIT
====================================
*/

// RateLimitRule is a per-path window override.
type RateLimitRule struct {
	Window time.Duration
	Max    int
}

// RateLimitConfig controls the sliding-window limiter.
type RateLimitConfig struct {
	// Enabled overrides the default (on in production, off otherwise).
	Enabled *bool
	Window  time.Duration
	Max     int
	// Rules override Window/Max for specific endpoint paths.
	Rules map[string]RateLimitRule
	// Storage overrides the built-in memory store. When Storage is nil and
	// the secondary tier is Redis-backed, counters share that Redis.
	Storage RateLimitStorage
}

/*
====================================
ADVANCED
====================================
*/

// AdvancedConfig holds the switches most deployments never touch.
type AdvancedConfig struct {
	// DisableCSRFCheck turns the origin guard off. Development only.
	DisableCSRFCheck bool
	// EnumerationProtection overrides the default (on in production).
	EnumerationProtection *bool
	// IPAddressHeaders are consulted in order for the client IP before
	// falling back to the connection remote address.
	IPAddressHeaders []string
	// DontRememberTTL is the browser-session cookie marker lifetime.
	DontRememberTTL time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		BasePath: "/api/auth",
		EmailPassword: EmailPasswordConfig{
			Enabled:           true,
			MinPasswordLength: 8,
			MaxPasswordLength: 128,
			AutoSignIn:        true,
		},
		Session: SessionConfig{
			TTL:       7 * 24 * time.Hour,
			UpdateAge: 24 * time.Hour,
			Retention: RetentionDelete,
			CookieCache: CookieCacheConfig{
				Enabled: false,
				TTL:     5 * time.Minute,
			},
		},
		Cookies: CookieConfig{
			Prefix:   "authcore",
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		},
		Verification: VerificationConfig{
			DefaultTTL:         time.Hour,
			OTPDigits:          6,
			OTPAllowedAttempts: 3,
		},
		OAuth: OAuthConfig{
			StateTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
			Max:    100,
		},
		Advanced: AdvancedConfig{
			IPAddressHeaders: []string{"X-Forwarded-For", "X-Real-IP"},
			DontRememberTTL:  24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks invariants the engine depends on. Build calls it; callers
// constructing Config by hand may call it early for better error locality.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Secret) == "" {
		return errors.New("config: secret is required")
	}
	if len(c.Secret) < 32 {
		return errors.New("config: secret must be at least 32 bytes")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("config: base URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.New("config: base URL must include a scheme")
	}
	if c.BasePath == "" || c.BasePath[0] != '/' {
		return errors.New("config: base path must start with /")
	}
	if c.Session.TTL <= 0 {
		return errors.New("config: session TTL must be positive")
	}
	if c.Session.UpdateAge < 0 || c.Session.UpdateAge > c.Session.TTL {
		return errors.New("config: session update age must be within [0, TTL]")
	}
	if c.Session.CookieCache.Enabled && c.Session.CookieCache.TTL <= 0 {
		return errors.New("config: cookie cache TTL must be positive")
	}
	if c.EmailPassword.Enabled {
		if c.EmailPassword.MinPasswordLength < 1 {
			return errors.New("config: min password length must be >= 1")
		}
		if c.EmailPassword.MaxPasswordLength < c.EmailPassword.MinPasswordLength {
			return errors.New("config: max password length must be >= min")
		}
	}
	if c.Verification.DefaultTTL <= 0 {
		return errors.New("config: verification TTL must be positive")
	}
	if c.Verification.OTPDigits < 4 || c.Verification.OTPDigits > 10 {
		return errors.New("config: otp digits must be within [4, 10]")
	}
	if c.Verification.OTPAllowedAttempts < 1 {
		return errors.New("config: otp allowed attempts must be >= 1")
	}
	if c.OAuth.StateTTL <= 0 {
		return errors.New("config: oauth state TTL must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return errors.New("config: rate limit window and max must be positive")
	}
	for path, rule := range c.RateLimit.Rules {
		if rule.Window <= 0 || rule.Max <= 0 {
			return errors.New("config: rate limit rule for " + path + " must have positive window and max")
		}
	}
	return nil
}

// rateLimitEnabled resolves the rate-limiter default: on in production.
func (c *Config) rateLimitEnabled() bool {
	if c.RateLimit.Enabled != nil {
		return *c.RateLimit.Enabled
	}
	return c.Production
}

// enumerationProtectionEnabled resolves the substitution default: on in
// production, off in development.
func (c *Config) enumerationProtectionEnabled() bool {
	if c.Advanced.EnumerationProtection != nil {
		return *c.Advanced.EnumerationProtection
	}
	return c.Production
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.TrustedOrigins = append([]string(nil), cfg.TrustedOrigins...)
	out.Advanced.IPAddressHeaders = append([]string(nil), cfg.Advanced.IPAddressHeaders...)
	if cfg.RateLimit.Rules != nil {
		out.RateLimit.Rules = make(map[string]RateLimitRule, len(cfg.RateLimit.Rules))
		for k, v := range cfg.RateLimit.Rules {
			out.RateLimit.Rules[k] = v
		}
	}
	if cfg.Advanced.EnumerationProtection != nil {
		v := *cfg.Advanced.EnumerationProtection
		out.Advanced.EnumerationProtection = &v
	}
	if cfg.RateLimit.Enabled != nil {
		v := *cfg.RateLimit.Enabled
		out.RateLimit.Enabled = &v
	}
	if cfg.Cookies.SecureOverride != nil {
		v := *cfg.Cookies.SecureOverride
		out.Cookies.SecureOverride = &v
	}
	return out
}
