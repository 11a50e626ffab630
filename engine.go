package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/oauth"
)

// maxBodyBytes bounds request bodies read by the dispatcher.
const maxBodyBytes = 1 << 20

// EmailSender delivers the messages the engine generates. Implementations
// own templating and transport; the engine only hands over the action URL.
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, user *User, url string) error
	SendPasswordReset(ctx context.Context, user *User, url string) error
}

// noopEmailSender logs instead of sending. The build-time default so a
// development setup works without an email provider.
type noopEmailSender struct {
	logger *slog.Logger
}

func (s noopEmailSender) SendVerificationEmail(ctx context.Context, user *User, url string) error {
	s.logger.Info("email sender not configured, skipping verification email", "user", user.ID)
	return nil
}

func (s noopEmailSender) SendPasswordReset(ctx context.Context, user *User, url string) error {
	s.logger.Info("email sender not configured, skipping password reset email", "user", user.ID)
	return nil
}

// Engine is the assembled authentication core. Construct one with [Builder];
// the zero value is not usable. An Engine is safe for concurrent use.
type Engine struct {
	cfg       *Config
	store     *store
	secondary SecondaryStorage
	sessions  *sessionManager
	cookies   *cookieJar
	origin    *originGuard
	limiter   *rateLimiter
	registry  *registry
	providers map[string]oauth.Provider
	replay    *replayGuard
	hasher    PasswordHasher
	emails    EmailSender
	logger    *slog.Logger
	metrics   *Metrics
	audit     *audit.Dispatcher
}

// Handler returns the http.Handler to mount at Config.BasePath.
func (e *Engine) Handler() http.Handler {
	return e
}

// Metrics exposes the engine's counters for exporters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot deep-copies the current metric state. Exporters read
// through this instead of touching live counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Logger exposes the engine's logger, mainly for plugins.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Close flushes background workers. Call during shutdown.
func (e *Engine) Close() {
	e.audit.Close()
}

// Provider returns the configured OAuth provider by id.
func (e *Engine) Provider(id string) (oauth.Provider, bool) {
	p, ok := e.providers[id]
	return p, ok
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricDispatchLatency, time.Since(start))
	}()

	path, ok := e.relativePath(r.URL.Path)
	if !ok {
		writeError(w, ErrNotFound("Not found"))
		return
	}

	ep, params, ok := e.registry.match(r.Method, path)
	if !ok {
		writeError(w, ErrNotFound("Not found"))
		return
	}

	rc := &RequestContext{
		ctx:     r.Context(),
		engine:  e,
		request: r,
		Path:    path,
		Method:  strings.ToUpper(r.Method),
		Params:  params,
		Query:   r.URL.Query(),
	}

	if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, ErrBadRequest("Unable to read request body"))
			return
		}
		rc.Body = body
	}

	if apiErr := e.checkRateLimit(rc, ep); apiErr != nil {
		if apiErr.Status == http.StatusTooManyRequests {
			// Retry-After was attached to the context by checkRateLimit.
			for key, values := range rc.headers {
				for _, v := range values {
					w.Header().Add(key, v)
				}
			}
		}
		writeError(w, apiErr)
		return
	}

	if !e.cfg.Advanced.DisableCSRFCheck && !ep.Metadata.SkipOriginCheck {
		if err := e.origin.CheckRequest(r); err != nil {
			e.metrics.Inc(MetricOriginRejected)
			e.audit.Emit(rc.ctx, audit.Event{
				Timestamp: time.Now(),
				EventType: audit.EventOriginRejected,
				Path:      path,
				IP:        rc.ClientIP(),
			})
			writeError(w, AsAPIError(err))
			return
		}
	}

	e.resolveSession(rc)

	if ep.Metadata.RequireSession && rc.Session == nil {
		writeError(w, ErrUnauthorized("Unauthorized"))
		return
	}

	resp, err := e.runPipeline(rc, ep)
	if err != nil {
		apiErr := AsAPIError(err)
		if apiErr.Status >= http.StatusInternalServerError {
			e.logger.Error("request failed", "method", rc.Method, "path", path, "err", err)
		} else {
			e.logger.Debug("request rejected", "method", rc.Method, "path", path, "code", apiErr.Code)
		}
		rc.writeCookiesAndHeaders(w)
		writeError(w, apiErr)
		return
	}

	if resp == nil {
		resp = JSONResponse(map[string]bool{"ok": true})
	}
	rc.mergeInto(resp)
	writeResponse(w, r, resp)
}

// relativePath strips the base path, returning false when the request lies
// outside it. "/api/auth" and "/api/auth/" both normalize to "/".
func (e *Engine) relativePath(full string) (string, bool) {
	base := strings.TrimSuffix(e.cfg.BasePath, "/")
	if !strings.HasPrefix(full, base) {
		return "", false
	}
	rest := full[len(base):]
	if rest == "" {
		return "/", true
	}
	if rest[0] != '/' {
		return "", false
	}
	if len(rest) > 1 {
		rest = strings.TrimSuffix(rest, "/")
	}
	return rest, true
}

func (e *Engine) checkRateLimit(rc *RequestContext, ep *Endpoint) *APIError {
	if !e.cfg.rateLimitEnabled() {
		return nil
	}

	limiter := e.limiter
	if ep.Metadata.RateLimit != nil {
		// Per-endpoint override: same storage, endpoint-specific budget.
		limiter = &rateLimiter{
			storage: e.limiter.storage,
			window:  ep.Metadata.RateLimit.Window,
			max:     ep.Metadata.RateLimit.Max,
		}
	}

	ok, retryAfter, err := limiter.Allow(rc.ctx, rc.Path, rateLimitKey(rc.ClientIP()))
	if err != nil {
		// Counter store trouble must not take authentication down.
		e.logger.Warn("rate limit storage error, allowing request", "err", err)
		return nil
	}
	if ok {
		return nil
	}

	e.metrics.Inc(MetricRateLimited)
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventRateLimited,
		Path:      rc.Path,
		IP:        rc.ClientIP(),
	})
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	rc.SetHeader("Retry-After", strconv.Itoa(seconds))
	return ErrTooManyRequests("Too many requests")
}

// resolveSession populates rc.Session from the request cookies. The cookie
// cache short-circuits storage when enabled and fresh; otherwise the session
// manager verifies (and possibly slides) the session.
func (e *Engine) resolveSession(rc *RequestContext) {
	token := e.cookies.ReadSessionToken(rc.request)
	if token == "" {
		return
	}

	if e.cfg.Session.CookieCache.Enabled {
		if cached := e.cookies.ReadCacheCookie(rc.request); cached != nil && cached.Session.Token == token {
			rc.Session = cached
			return
		}
	}

	result, err := e.sessions.Verify(rc.ctx, token, e.cookies.DontRemember(rc.request))
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			e.logger.Error("session verification failed", "err", err)
		}
		return
	}
	rc.Session = result

	if e.cfg.Session.CookieCache.Enabled {
		if cache, cerr := e.cookies.CacheCookie(result, e.cfg.Session.CookieCache.TTL); cerr == nil {
			rc.SetCookie(cache)
		}
	}
}

/*
====================================
RESPONSE WRITING
====================================
*/

func (rc *RequestContext) writeCookiesAndHeaders(w http.ResponseWriter) {
	for _, c := range rc.cookies {
		http.SetCookie(w, c)
	}
	for key, values := range rc.headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) {
	for _, c := range resp.Cookies {
		http.SetCookie(w, c)
	}
	for key, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if resp.Redirect != "" {
		status := resp.Status
		if status == 0 {
			status = http.StatusFound
		}
		http.Redirect(w, r, resp.Redirect, status)
		return
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if body, ok := resp.Body.(htmlBody); ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if resp.Body != nil {
		_ = json.NewEncoder(w).Encode(resp.Body)
	}
}

func writeError(w http.ResponseWriter, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	})
}

// htmlBody marks a Response body as pre-rendered HTML.
type htmlBody string
