package authcore

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/authcore-dev/authcore/internal/audit"
)

// handleCallback completes the authorization-code round trip. The state is
// consumed exactly once before anything else; a missing, expired, or reused
// state fails closed. Failures after state consumption redirect the browser
// to the error callback (or the built-in error page) since the user arrives
// here by navigation, not by fetch.
func (e *Engine) handleCallback(rc *RequestContext) (*Response, error) {
	providerID := rc.Param("providerId")
	provider, ok := e.providers[providerID]
	if !ok {
		return nil, ErrNotFound("Provider not found")
	}

	state := rc.Query.Get("state")
	if state == "" {
		return nil, ErrBadRequest(msgInvalidState)
	}

	stored, err := e.store.ConsumeVerification(rc.ctx, verificationIdentifier(identOAuthState, state))
	if err != nil {
		e.metrics.Inc(MetricStateReplay)
		e.audit.Emit(rc.ctx, audit.Event{
			Timestamp: time.Now(),
			EventType: audit.EventOAuthStateReplay,
			Path:      rc.Path,
			Provider:  providerID,
			IP:        rc.ClientIP(),
		})
		return nil, ErrBadRequest(msgInvalidState)
	}

	var record OAuthStateRecord
	if err := json.Unmarshal([]byte(stored.Value), &record); err != nil {
		return nil, ErrBadRequest(msgInvalidState)
	}
	if record.ProviderID != providerID {
		// State issued for a different provider; do not honor it here.
		return nil, ErrBadRequest(msgInvalidState)
	}

	if providerErr := rc.Query.Get("error"); providerErr != "" {
		e.metrics.Inc(MetricOAuthCallbackFailure)
		return RedirectResponse(e.errorRedirect(record.ErrorCallbackURL, providerErr, rc.Query.Get("error_description"))), nil
	}

	code := rc.Query.Get("code")
	if code == "" {
		e.metrics.Inc(MetricOAuthCallbackFailure)
		return RedirectResponse(e.errorRedirect(record.ErrorCallbackURL, "invalid_request", "missing authorization code")), nil
	}

	tokens, err := provider.ValidateAuthorizationCode(rc.ctx, code, e.callbackURL(providerID), record.CodeVerifier)
	if err != nil {
		e.logger.Warn("code exchange failed", "provider", providerID, "err", err)
		e.metrics.Inc(MetricOAuthCallbackFailure)
		e.emitCallbackFailure(rc, providerID)
		return RedirectResponse(e.errorRedirect(record.ErrorCallbackURL, "unauthorized", "token exchange failed")), nil
	}

	info, err := provider.GetUserInfo(rc.ctx, tokens)
	if err != nil {
		e.logger.Warn("user info failed", "provider", providerID, "err", err)
		e.metrics.Inc(MetricOAuthCallbackFailure)
		e.emitCallbackFailure(rc, providerID)
		return RedirectResponse(e.errorRedirect(record.ErrorCallbackURL, "unauthorized", "user info retrieval failed")), nil
	}

	user, created, err := e.resolveOAuthUser(rc, providerID, info, tokens, record.RequestSignUp)
	if err != nil {
		e.metrics.Inc(MetricOAuthCallbackFailure)
		e.emitCallbackFailure(rc, providerID)
		apiErr := AsAPIError(err)
		return RedirectResponse(e.errorRedirect(record.ErrorCallbackURL, apiErr.Code, apiErr.Message)), nil
	}

	if _, err := e.establishSession(rc, user, false); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricOAuthCallbackSuccess)
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventOAuthCallback,
		UserID:    user.ID,
		Path:      rc.Path,
		Provider:  providerID,
		IP:        rc.ClientIP(),
		Success:   true,
	})

	target := record.CallbackURL
	if created && record.NewUserCallbackURL != "" {
		target = record.NewUserCallbackURL
	}
	if target == "" {
		target = e.cfg.BaseURL
	}
	return RedirectResponse(target), nil
}

func (e *Engine) emitCallbackFailure(rc *RequestContext, providerID string) {
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventOAuthCallback,
		Path:      rc.Path,
		Provider:  providerID,
		IP:        rc.ClientIP(),
	})
}

// errorRedirect picks the caller's error callback when one was bound to the
// state, falling back to the built-in HTML error page.
func (e *Engine) errorRedirect(errorCallbackURL, code, description string) string {
	q := url.Values{}
	if code != "" {
		q.Set("error", code)
	}
	if description != "" {
		q.Set("error_description", description)
	}

	target := errorCallbackURL
	if target == "" {
		target = e.cfg.BaseURL + e.cfg.BasePath + "/error"
	}
	if len(q) == 0 {
		return target
	}

	sep := "?"
	if u, err := url.Parse(target); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return target + sep + q.Encode()
}

type refreshTokenRequest struct {
	ProviderID string `json:"providerId"`
}

// handleRefreshToken re-exchanges the stored refresh token for the caller's
// linked provider account and persists the rotated tokens.
func (e *Engine) handleRefreshToken(rc *RequestContext) (*Response, error) {
	var req refreshTokenRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	provider, ok := e.providers[req.ProviderID]
	if !ok {
		return nil, ErrNotFound("Provider not found")
	}

	account, err := e.store.FindAccountByUserAndProvider(rc.ctx, rc.Session.User.ID, req.ProviderID)
	if err != nil {
		return nil, ErrBadRequest("No linked account for provider")
	}
	if account.RefreshToken == "" {
		return nil, ErrBadRequest("Account has no refresh token")
	}

	tokens, err := provider.RefreshAccessToken(rc.ctx, account.RefreshToken)
	if err != nil {
		e.metrics.Inc(MetricTokenRefreshFailure)
		e.logger.Warn("token refresh failed", "provider", req.ProviderID, "account", account.ID, "err", err)
		return nil, ErrUnauthorized("Token refresh failed")
	}

	if err := e.store.UpdateAccount(rc.ctx, account.ID, tokenPatch(tokens)); err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricTokenRefreshSuccess)
	return JSONResponse(map[string]any{
		"accessToken":          tokens.AccessToken,
		"accessTokenExpiresAt": tokens.ExpiresAt,
	}), nil
}
