package authcore

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal"
	"github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/oauth"
)

// This file is the surface plugins program against. Everything here is a
// thin, stable view over internals that plugins must not reach directly.

// Adapter exposes the primary storage adapter for plugin-owned models.
// The core models ("user", "session", "account", "verification") and their
// field names are a public contract; plugins may read and extend them.
func (e *Engine) Adapter() adapter.Adapter {
	return e.store.db
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(*e.cfg)
}

// CreateSessionFor mints a session for userID and attaches its cookies to
// the request context, exactly as a first-party sign-in would.
func (e *Engine) CreateSessionFor(rc *RequestContext, userID string) (*SessionResult, error) {
	user, err := e.store.FindUserByID(rc.ctx, userID)
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, ErrUnauthorized(msgInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	session, err := e.establishSession(rc, user, false)
	if err != nil {
		return nil, err
	}
	return &SessionResult{Session: session, User: user}, nil
}

// SessionFromRequest resolves the request's session cookie to a verified
// {session, user} pair, applying sliding refresh to the stored record.
// Returns ErrNoSession when the request carries no usable session.
func (e *Engine) SessionFromRequest(r *http.Request) (*SessionResult, error) {
	token := e.cookies.ReadSessionToken(r)
	if token == "" {
		return nil, ErrNoSession
	}
	return e.sessions.Verify(r.Context(), token, e.cookies.DontRemember(r))
}

// RevokeSessionToken revokes a session by raw token. Idempotent.
func (e *Engine) RevokeSessionToken(ctx context.Context, token string) error {
	return e.sessions.Revoke(ctx, token)
}

// SignedCookie builds an HMAC-signed cookie with the engine's configured
// attributes. base is the cookie name without the configured prefix.
func (e *Engine) SignedCookie(base, value string, ttl time.Duration) *http.Cookie {
	c := e.cookies.ClearCookie(base)
	c.Value = e.cookies.signedValue(value)
	c.MaxAge = int(ttl.Seconds())
	c.Expires = time.Now().Add(ttl)
	return c
}

// ReadSignedCookie verifies and returns a cookie set by SignedCookie.
// Tampered or absent cookies read as absent.
func (e *Engine) ReadSignedCookie(r *http.Request, base string) (string, bool) {
	c, err := r.Cookie(e.cookies.name(base))
	if err != nil || c.Value == "" {
		return "", false
	}
	value, err := e.cookies.verifySignedValue(c.Value)
	if err != nil {
		return "", false
	}
	return value, true
}

// ClearNamedCookie expires a cookie set by SignedCookie.
func (e *Engine) ClearNamedCookie(base string) *http.Cookie {
	return e.cookies.ClearCookie(base)
}

// ReplayGuard returns the engine's first-use-wins guard, suitable for
// [oauth.NewAssertionVerifier]. Secondary storage backs it when configured;
// otherwise the verification model's unique index does. Detected replays
// are counted and audited.
func (e *Engine) ReplayGuard() oauth.ReplayGuard {
	return instrumentedReplayGuard{engine: e}
}

type instrumentedReplayGuard struct {
	engine *Engine
}

func (g instrumentedReplayGuard) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := g.engine.replay.CheckAndSet(ctx, key, ttl)
	if err == nil && !fresh {
		g.engine.metrics.Inc(MetricAssertionReplay)
		g.engine.audit.Emit(ctx, audit.Event{
			Timestamp: time.Now(),
			EventType: audit.EventAssertionReplay,
		})
	}
	return fresh, err
}

// Verifications returns the plugin view of the verification store.
func (e *Engine) Verifications() *Verifications {
	return &Verifications{engine: e}
}

// Verifications is the plugin-facing facade over single-use values and
// bounded-retry OTP challenges.
type Verifications struct {
	engine *Engine
}

// Create stores a single-use value, replacing any previous value under the
// same identifier.
func (v *Verifications) Create(ctx context.Context, identifier, value string, ttl time.Duration) error {
	_, err := v.engine.store.CreateVerification(ctx, identifier, value, ttl)
	return err
}

// Consume redeems a single-use value. The value is deleted before it is
// returned; expired or unknown identifiers yield BAD_REQUEST.
func (v *Verifications) Consume(ctx context.Context, identifier string) (string, error) {
	record, err := v.engine.store.ConsumeVerification(ctx, identifier)
	if err != nil {
		return "", ErrBadRequest(msgInvalidToken)
	}
	return record.Value, nil
}

// IssueOTP generates a numeric one-time code per the configured digit count,
// stores its hash with a zeroed attempt counter, and returns the code for
// delivery. The TTL is the configured verification default.
func (v *Verifications) IssueOTP(ctx context.Context, identifier string) (string, error) {
	code, err := internal.NewOTP(v.engine.cfg.Verification.OTPDigits)
	if err != nil {
		return "", ErrInternal("internal server error")
	}
	if err := v.engine.store.CreateOTP(ctx, identifier, code, v.engine.cfg.Verification.DefaultTTL); err != nil {
		return "", err
	}
	return code, nil
}

// CheckOTP verifies a submitted code against the stored challenge, honoring
// the configured attempt cap. Exceeding the cap deletes the challenge, after
// which even the correct code fails.
func (v *Verifications) CheckOTP(ctx context.Context, identifier, code string) error {
	err := v.engine.store.VerifyOTP(ctx, identifier, code, v.engine.cfg.Verification.OTPAllowedAttempts)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errTooManyAttempts):
		return ErrUnauthorized("Too many attempts")
	case errors.Is(err, errVerificationExpired), errors.Is(err, errVerificationMismatch):
		return ErrUnauthorized(msgInvalidToken)
	default:
		return err
	}
}
