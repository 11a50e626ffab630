package authcore

import (
	"context"
	"net/http"
	"testing"
)

func TestGetSessionWithoutCookie(t *testing.T) {
	e := newTestEngine(t)

	rec := doRequest(t, e, http.MethodGet, "/get-session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "null\n" {
		t.Fatalf("expected null body for anonymous get-session, got %q", body)
	}
}

func TestGetSessionWithCookie(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	rec := doRequest(t, e, http.MethodGet, "/get-session", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body SessionResult
	decodeBody(t, rec, &body)
	if body.User == nil || body.User.Email != "alice@example.com" {
		t.Fatalf("expected session user, got %+v", body.User)
	}
	if body.Session == nil || body.Session.Token == "" {
		t.Fatal("expected session token in result")
	}
}

func TestGetSessionRejectsTamperedCookie(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	tampered := *cookie
	tampered.Value = "forged-token." + cookie.Value[len(cookie.Value)-10:]

	rec := doRequest(t, e, http.MethodGet, "/get-session", nil, &tampered)
	if body := rec.Body.String(); body != "null\n" {
		t.Fatalf("tampered cookie must read as anonymous, got %q", body)
	}
}

func TestSignOutRevokesSession(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	rec := doRequest(t, e, http.MethodPost, "/sign-out", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-out failed: %d", rec.Code)
	}

	cleared := findCookie(rec, sessionCookieName)
	if cleared == nil || cleared.MaxAge != -1 {
		t.Fatal("sign-out must clear the session cookie")
	}

	rec = doRequest(t, e, http.MethodGet, "/get-session", nil, cookie)
	if body := rec.Body.String(); body != "null\n" {
		t.Fatalf("expected null after sign-out, got %q", body)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	for i := 0; i < 2; i++ {
		rec := doRequest(t, e, http.MethodPost, "/sign-out", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("sign-out attempt %d failed: %d", i+1, rec.Code)
		}
	}

	// Without any cookie at all it still succeeds.
	rec := doRequest(t, e, http.MethodPost, "/sign-out", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous sign-out must succeed, got %d", rec.Code)
	}
}

func TestListSessionsRequiresSession(t *testing.T) {
	e := newTestEngine(t)

	rec := doRequest(t, e, http.MethodGet, "/list-sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	// A second sign-in creates a second session.
	rec := doRequest(t, e, http.MethodPost, "/sign-in/email", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second sign-in failed: %d", rec.Code)
	}

	rec = doRequest(t, e, http.MethodGet, "/list-sessions", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("list-sessions failed: %d", rec.Code)
	}

	var sessions []Session
	decodeBody(t, rec, &sessions)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}
}

func TestRevokeSessionForeignTokenRejected(t *testing.T) {
	e := newTestEngine(t)
	aliceCookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))
	signUp(t, e, "mallory@example.com", "correct-horse")

	// Mallory's raw token, read straight from storage.
	mallory, err := e.store.FindUserByEmail(context.Background(), "mallory@example.com")
	if err != nil {
		t.Fatalf("find mallory: %v", err)
	}
	malSessions, err := e.sessions.ActiveSessions(context.Background(), mallory.ID)
	if err != nil || len(malSessions) != 1 {
		t.Fatalf("expected one mallory session, got %d err=%v", len(malSessions), err)
	}

	rec := doRequest(t, e, http.MethodPost, "/revoke-session", map[string]string{
		"token": malSessions[0].Token,
	}, aliceCookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a foreign token, got %d", rec.Code)
	}

	// Mallory's session survives.
	remaining, _ := e.sessions.ActiveSessions(context.Background(), mallory.ID)
	if len(remaining) != 1 {
		t.Fatal("foreign revoke attempt must not touch the victim session")
	}
}

func TestRevokeOtherSessions(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	for i := 0; i < 2; i++ {
		rec := doRequest(t, e, http.MethodPost, "/sign-in/email", map[string]string{
			"email":    "alice@example.com",
			"password": "correct-horse",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("extra sign-in failed: %d", rec.Code)
		}
	}

	rec := doRequest(t, e, http.MethodPost, "/revoke-other-sessions", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke-other-sessions failed: %d", rec.Code)
	}

	// The current session still works; the others are gone.
	rec = doRequest(t, e, http.MethodGet, "/list-sessions", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("current session must survive, got %d", rec.Code)
	}
	var sessions []Session
	decodeBody(t, rec, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected only the current session, got %d", len(sessions))
	}
}

func TestRevokeSessionsIncludesCurrent(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	rec := doRequest(t, e, http.MethodPost, "/revoke-sessions", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke-sessions failed: %d", rec.Code)
	}

	rec = doRequest(t, e, http.MethodGet, "/get-session", nil, cookie)
	if body := rec.Body.String(); body != "null\n" {
		t.Fatalf("expected all sessions revoked, got %q", body)
	}
}

func TestOriginGuardBlocksUntrustedOrigin(t *testing.T) {
	e := newTestEngine(t)
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	rec := doRequestWithOrigin(t, e, http.MethodPost, "/sign-out", "https://evil.test", cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for untrusted origin, got %d", rec.Code)
	}
	if got := e.Metrics().Value(MetricOriginRejected); got != 1 {
		t.Fatalf("expected origin rejection metric 1, got %d", got)
	}
}

func TestOriginGuardAllowsTrustedExtraOrigin(t *testing.T) {
	e := newTestEngine(t, func(b *Builder) {
		cfg := testConfig()
		cfg.TrustedOrigins = []string{"https://trusted.partner.test"}
		b.WithConfig(cfg)
	})
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	rec := doRequestWithOrigin(t, e, http.MethodPost, "/sign-out", "https://trusted.partner.test", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected trusted origin to pass, got %d", rec.Code)
	}
}
