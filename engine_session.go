package authcore

import (
	"time"

	"github.com/authcore-dev/authcore/internal/audit"
)

// handleGetSession returns the current {session, user} pair, or null when the
// request carries no valid session. Absence is not an error.
func (e *Engine) handleGetSession(rc *RequestContext) (*Response, error) {
	if rc.Session == nil {
		return JSONResponse(nil), nil
	}
	return JSONResponse(rc.Session), nil
}

// handleSignOut revokes the current session and clears its cookies.
// Idempotent: a request without a session, or with an already-revoked token,
// still succeeds.
func (e *Engine) handleSignOut(rc *RequestContext) (*Response, error) {
	token := e.cookies.ReadSessionToken(rc.request)
	if token != "" {
		if err := e.sessions.Revoke(rc.ctx, token); err != nil {
			return nil, err
		}
	}

	rc.SetCookie(e.cookies.ClearCookie(cookieSessionToken))
	rc.SetCookie(e.cookies.ClearCookie(cookieSessionData))
	rc.SetCookie(e.cookies.ClearCookie(cookieDontRemember))

	if rc.Session != nil {
		e.metrics.Inc(MetricSignOut)
		e.audit.Emit(rc.ctx, audit.Event{
			Timestamp: time.Now(),
			EventType: audit.EventSignOut,
			UserID:    rc.Session.User.ID,
			SessionID: rc.Session.Session.ID,
			Path:      rc.Path,
			IP:        rc.ClientIP(),
			Success:   true,
		})
	}
	return JSONResponse(map[string]bool{"success": true}), nil
}

func (e *Engine) handleListSessions(rc *RequestContext) (*Response, error) {
	sessions, err := e.sessions.ActiveSessions(rc.ctx, rc.Session.User.ID)
	if err != nil {
		return nil, err
	}
	return JSONResponse(sessions), nil
}

type revokeSessionRequest struct {
	Token string `json:"token"`
}

// handleRevokeSession revokes one of the caller's sessions by token. A token
// belonging to another user is rejected without revealing whether it exists.
func (e *Engine) handleRevokeSession(rc *RequestContext) (*Response, error) {
	var req revokeSessionRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, ErrBadRequest("Session token is required")
	}

	target, err := e.store.FindSessionByToken(rc.ctx, req.Token)
	if err == nil && target.UserID != rc.Session.User.ID {
		return nil, ErrBadRequest(msgInvalidToken)
	}

	if err := e.sessions.Revoke(rc.ctx, req.Token); err != nil {
		return nil, err
	}
	e.emitRevocation(rc, req.Token)
	return JSONResponse(map[string]bool{"success": true}), nil
}

// handleRevokeSessions revokes every session of the caller, including the
// current one.
func (e *Engine) handleRevokeSessions(rc *RequestContext) (*Response, error) {
	if _, err := e.sessions.RevokeAll(rc.ctx, rc.Session.User.ID, ""); err != nil {
		return nil, err
	}

	rc.SetCookie(e.cookies.ClearCookie(cookieSessionToken))
	rc.SetCookie(e.cookies.ClearCookie(cookieSessionData))
	e.emitRevocation(rc, "")
	return JSONResponse(map[string]bool{"success": true}), nil
}

// handleRevokeOtherSessions revokes every session of the caller except the
// one making the request.
func (e *Engine) handleRevokeOtherSessions(rc *RequestContext) (*Response, error) {
	if _, err := e.sessions.RevokeAll(rc.ctx, rc.Session.User.ID, rc.Session.Session.Token); err != nil {
		return nil, err
	}
	e.emitRevocation(rc, "")
	return JSONResponse(map[string]bool{"success": true}), nil
}

func (e *Engine) emitRevocation(rc *RequestContext, token string) {
	event := audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventSessionRevoked,
		UserID:    rc.Session.User.ID,
		Path:      rc.Path,
		IP:        rc.ClientIP(),
		Success:   true,
	}
	if token != "" && token == rc.Session.Session.Token {
		event.SessionID = rc.Session.Session.ID
	}
	e.audit.Emit(rc.ctx, event)
}
