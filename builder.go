package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/oauth"
	"github.com/authcore-dev/authcore/password"
)

// Builder assembles an [Engine]. Chain the With* methods, then call Build
// exactly once; the Builder is not reusable afterwards.
type Builder struct {
	cfg       *Config
	db        adapter.Adapter
	secondary SecondaryStorage
	providers []oauth.Provider
	plugins   []Plugin
	hooks     []Hook
	endpoints []Endpoint
	hasher    PasswordHasher
	emails    EmailSender
	logger    *slog.Logger
	auditSink audit.Sink
	errs      []error
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration. Zero-valued fields still
// receive defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	c := cloneConfig(cfg)
	b.cfg = &c
	return b
}

// WithAdapter sets the primary storage adapter. Required.
func (b *Builder) WithAdapter(db adapter.Adapter) *Builder {
	b.db = db
	return b
}

// WithSecondaryStorage enables the key-value tier for session reads, replay
// guards, and (absent an override) rate-limit counters.
func (b *Builder) WithSecondaryStorage(storage SecondaryStorage) *Builder {
	b.secondary = storage
	return b
}

// WithProviders registers OAuth providers. Duplicate ids are a Build error.
func (b *Builder) WithProviders(providers ...oauth.Provider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

// WithPlugins registers plugins. Their endpoints and hooks are added after
// the core's during Build, in the order given.
func (b *Builder) WithPlugins(plugins ...Plugin) *Builder {
	b.plugins = append(b.plugins, plugins...)
	return b
}

// WithHooks registers application-level hooks, appended after core and
// plugin hooks so they run last in each phase.
func (b *Builder) WithHooks(hooks ...Hook) *Builder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithEndpoints registers custom application endpoints.
func (b *Builder) WithEndpoints(endpoints ...Endpoint) *Builder {
	b.endpoints = append(b.endpoints, endpoints...)
	return b
}

// WithPasswordHasher replaces the default argon2id hasher.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithEmailSender sets the outbound email implementation.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.emails = sender
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit event destination. Events are only emitted
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, registers core, plugin, and custom
// endpoints and hooks, and returns the ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.db == nil {
		return nil, errors.New("build: storage adapter is required")
	}

	cfg := defaultConfig()
	if b.cfg != nil {
		cfg = mergeConfig(cfg, *b.cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "authcore")

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewArgon2(password.DefaultParams())
		if err != nil {
			return nil, fmt.Errorf("build: default hasher: %w", err)
		}
		hasher = h
	}

	emails := b.emails
	if emails == nil {
		emails = noopEmailSender{logger: logger}
	}

	st := newStore(b.db, logger)

	limitStorage := cfg.RateLimit.Storage
	if limitStorage == nil {
		// Shared counters when the secondary tier is Redis-backed, so
		// multi-instance deployments limit globally rather than per process.
		if rs, ok := b.secondary.(*redisSecondaryStorage); ok {
			limitStorage = NewRedisRateLimitStorage(rs.client, "")
		} else {
			limitStorage = NewMemoryRateLimitStorage()
		}
	}

	e := &Engine{
		cfg:       &cfg,
		store:     st,
		secondary: b.secondary,
		cookies:   newCookieJar(&cfg),
		origin:    newOriginGuard(cfg.BaseURL, cfg.TrustedOrigins),
		limiter:   newRateLimiter(cfg.RateLimit, limitStorage),
		registry:  newRegistry(),
		providers: make(map[string]oauth.Provider, len(b.providers)),
		replay:    &replayGuard{store: st, secondary: b.secondary},
		hasher:    hasher,
		emails:    emails,
		logger:    logger,
		metrics:   NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Options{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}
	e.sessions = &sessionManager{
		store:     st,
		secondary: b.secondary,
		cfg:       &cfg,
		logger:    logger,
		metrics:   e.metrics,
	}

	for _, p := range b.providers {
		if p == nil || p.ID() == "" {
			return nil, errors.New("build: provider with empty id")
		}
		if _, dup := e.providers[p.ID()]; dup {
			return nil, fmt.Errorf("build: duplicate provider %q", p.ID())
		}
		e.providers[p.ID()] = p
	}

	if err := e.registerCoreEndpoints(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(b.plugins))
	for _, plugin := range b.plugins {
		if plugin == nil {
			continue
		}
		if seen[plugin.ID()] {
			return nil, fmt.Errorf("build: duplicate plugin %q", plugin.ID())
		}
		seen[plugin.ID()] = true

		for _, ep := range plugin.Endpoints() {
			if err := e.registry.register(ep); err != nil {
				return nil, fmt.Errorf("build: plugin %q: %w", plugin.ID(), err)
			}
		}
		for _, h := range plugin.Hooks() {
			if err := validateHook(h); err != nil {
				return nil, fmt.Errorf("build: plugin %q: %w", plugin.ID(), err)
			}
			e.registry.addHook(h)
		}
	}

	for _, ep := range b.endpoints {
		if err := e.registry.register(ep); err != nil {
			return nil, err
		}
	}
	for _, h := range b.hooks {
		if err := validateHook(h); err != nil {
			return nil, err
		}
		e.registry.addHook(h)
	}

	for _, plugin := range b.plugins {
		if plugin == nil {
			continue
		}
		if err := plugin.Init(e); err != nil {
			return nil, fmt.Errorf("build: plugin %q init: %w", plugin.ID(), err)
		}
	}

	logger.Info("engine ready",
		"basePath", cfg.BasePath,
		"providers", len(e.providers),
		"plugins", len(b.plugins),
		"secondaryStorage", b.secondary != nil,
	)
	return e, nil
}

func validateHook(h Hook) error {
	switch h.Phase {
	case HookBefore:
		if h.Before == nil || h.After != nil {
			return ErrHookPhaseMismatch
		}
	case HookAfter:
		if h.After == nil || h.Before != nil {
			return ErrHookPhaseMismatch
		}
	default:
		return ErrHookPhaseMismatch
	}
	return nil
}

// mergeConfig overlays user-provided values onto defaults, field by field
// for everything that distinguishes "unset" from a deliberate zero.
func mergeConfig(base, user Config) Config {
	out := user

	if out.BasePath == "" {
		out.BasePath = base.BasePath
	}
	if out.EmailPassword.MinPasswordLength == 0 {
		out.EmailPassword.MinPasswordLength = base.EmailPassword.MinPasswordLength
	}
	if out.EmailPassword.MaxPasswordLength == 0 {
		out.EmailPassword.MaxPasswordLength = base.EmailPassword.MaxPasswordLength
	}
	if out.Session.TTL == 0 {
		out.Session.TTL = base.Session.TTL
	}
	if out.Session.UpdateAge == 0 {
		out.Session.UpdateAge = base.Session.UpdateAge
	}
	if out.Session.CookieCache.TTL == 0 {
		out.Session.CookieCache.TTL = base.Session.CookieCache.TTL
	}
	if out.Cookies.Prefix == "" {
		out.Cookies.Prefix = base.Cookies.Prefix
	}
	if out.Cookies.Path == "" {
		out.Cookies.Path = base.Cookies.Path
	}
	if out.Cookies.SameSite == 0 {
		out.Cookies.SameSite = base.Cookies.SameSite
	}
	if out.Cookies.SameSite == http.SameSiteDefaultMode {
		out.Cookies.SameSite = http.SameSiteLaxMode
	}
	if out.Verification.DefaultTTL == 0 {
		out.Verification.DefaultTTL = base.Verification.DefaultTTL
	}
	if out.Verification.OTPDigits == 0 {
		out.Verification.OTPDigits = base.Verification.OTPDigits
	}
	if out.Verification.OTPAllowedAttempts == 0 {
		out.Verification.OTPAllowedAttempts = base.Verification.OTPAllowedAttempts
	}
	if out.OAuth.StateTTL == 0 {
		out.OAuth.StateTTL = base.OAuth.StateTTL
	}
	if out.RateLimit.Window == 0 {
		out.RateLimit.Window = base.RateLimit.Window
	}
	if out.RateLimit.Max == 0 {
		out.RateLimit.Max = base.RateLimit.Max
	}
	if out.Advanced.IPAddressHeaders == nil {
		out.Advanced.IPAddressHeaders = base.Advanced.IPAddressHeaders
	}
	if out.Advanced.DontRememberTTL == 0 {
		out.Advanced.DontRememberTTL = base.Advanced.DontRememberTTL
	}
	if out.Audit.BufferSize == 0 {
		out.Audit.BufferSize = base.Audit.BufferSize
	}
	return out
}
