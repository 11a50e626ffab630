package authcore

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// captureEmailSender records the action URLs handed to it.
type captureEmailSender struct {
	mu             sync.Mutex
	verifyLinks    []string
	resetLinks     []string
	lastRecipients []string
}

func (s *captureEmailSender) SendVerificationEmail(ctx context.Context, user *User, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyLinks = append(s.verifyLinks, url)
	s.lastRecipients = append(s.lastRecipients, user.Email)
	return nil
}

func (s *captureEmailSender) SendPasswordReset(ctx context.Context, user *User, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLinks = append(s.resetLinks, url)
	s.lastRecipients = append(s.lastRecipients, user.Email)
	return nil
}

func (s *captureEmailSender) lastVerifyToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.verifyLinks) == 0 {
		t.Fatal("no verification email was sent")
	}
	return tokenFromLink(t, s.verifyLinks[len(s.verifyLinks)-1])
}

func (s *captureEmailSender) lastResetToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resetLinks) == 0 {
		t.Fatal("no reset email was sent")
	}
	return tokenFromLink(t, s.resetLinks[len(s.resetLinks)-1])
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("unparseable email link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("email link %q carries no token", link)
	}
	return token
}

func newVerificationEngine(t *testing.T) (*Engine, *captureEmailSender) {
	t.Helper()
	sender := &captureEmailSender{}
	e := newTestEngine(t, func(b *Builder) {
		cfg := testConfig()
		cfg.EmailPassword.Enabled = true
		cfg.EmailPassword.RequireEmailVerification = true
		b.WithConfig(cfg)
		b.WithEmailSender(sender)
	})
	return e, sender
}

func TestVerifyEmailFlow(t *testing.T) {
	e, sender := newVerificationEngine(t)

	signUp(t, e, "alice@example.com", "correct-horse")
	token := sender.lastVerifyToken(t)

	rec := doRequest(t, e, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify-email failed: %d %s", rec.Code, rec.Body.String())
	}

	user, err := e.store.FindUserByEmail(context.Background(), "alice@example.com")
	if err != nil || !user.EmailVerified {
		t.Fatalf("expected verified user, got %+v err=%v", user, err)
	}

	// Sign-in works now.
	rec = doRequest(t, e, http.MethodPost, "/sign-in/email", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in after verification failed: %d", rec.Code)
	}
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	e, sender := newVerificationEngine(t)

	signUp(t, e, "alice@example.com", "correct-horse")
	token := sender.lastVerifyToken(t)

	first := doRequest(t, e, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first redemption failed: %d", first.Code)
	}

	second := doRequest(t, e, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), nil)
	if second.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on replayed token, got %d", second.Code)
	}
}

func TestVerifyEmailRedirectsToCallback(t *testing.T) {
	e, sender := newVerificationEngine(t)

	signUp(t, e, "alice@example.com", "correct-horse")
	token := sender.lastVerifyToken(t)

	rec := doRequest(t, e, http.MethodGet,
		"/verify-email?token="+url.QueryEscape(token)+"&callbackURL=%2Fwelcome", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/welcome" {
		t.Fatalf("expected redirect to /welcome, got %q", loc)
	}
}

func TestSendVerificationEmailEnumerationSafe(t *testing.T) {
	e, sender := newVerificationEngine(t)
	signUp(t, e, "alice@example.com", "correct-horse")
	before := len(sender.verifyLinks)

	known := doRequest(t, e, http.MethodPost, "/send-verification-email", map[string]string{
		"email": "alice@example.com",
	})
	unknown := doRequest(t, e, http.MethodPost, "/send-verification-email", map[string]string{
		"email": "nobody@example.com",
	})

	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatal("responses must not reveal whether the address exists")
	}
	if len(sender.verifyLinks) != before+1 {
		t.Fatalf("expected exactly one new email, got %d", len(sender.verifyLinks)-before)
	}
}

func TestForgetPasswordResetFlow(t *testing.T) {
	sender := &captureEmailSender{}
	e := newTestEngine(t, func(b *Builder) {
		b.WithEmailSender(sender)
	})
	signUp(t, e, "alice@example.com", "correct-horse")

	known := doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{
		"email": "alice@example.com",
	})
	unknown := doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{
		"email": "nobody@example.com",
	})
	if known.Code != http.StatusOK || unknown.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", known.Code, unknown.Code)
	}
	if known.Body.String() != unknown.Body.String() {
		t.Fatal("forget-password must not reveal account existence")
	}

	token := sender.lastResetToken(t)
	rec := doRequest(t, e, http.MethodPost, "/reset-password", map[string]string{
		"token":       token,
		"newPassword": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-password failed: %d %s", rec.Code, rec.Body.String())
	}

	// Old credential is dead, new one works.
	rec = doRequest(t, e, http.MethodPost, "/sign-in/email", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old password must be rejected, got %d", rec.Code)
	}
	rec = doRequest(t, e, http.MethodPost, "/sign-in/email", map[string]string{
		"email":    "alice@example.com",
		"password": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("new password must work, got %d", rec.Code)
	}
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	sender := &captureEmailSender{}
	e := newTestEngine(t, func(b *Builder) {
		b.WithEmailSender(sender)
	})
	cookie := sessionCookieFrom(t, signUp(t, e, "alice@example.com", "correct-horse"))

	doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{"email": "alice@example.com"})
	token := sender.lastResetToken(t)

	rec := doRequest(t, e, http.MethodPost, "/reset-password", map[string]string{
		"token":       token,
		"newPassword": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset-password failed: %d", rec.Code)
	}

	rec = doRequest(t, e, http.MethodGet, "/get-session", nil, cookie)
	if body := rec.Body.String(); body != "null\n" {
		t.Fatalf("pre-reset session must be revoked, got %q", body)
	}
}

func TestResetPasswordTokenIsSingleUse(t *testing.T) {
	sender := &captureEmailSender{}
	e := newTestEngine(t, func(b *Builder) {
		b.WithEmailSender(sender)
	})
	signUp(t, e, "alice@example.com", "correct-horse")

	doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{"email": "alice@example.com"})
	token := sender.lastResetToken(t)

	first := doRequest(t, e, http.MethodPost, "/reset-password", map[string]string{
		"token": token, "newPassword": "brand-new-password",
	})
	second := doRequest(t, e, http.MethodPost, "/reset-password", map[string]string{
		"token": token, "newPassword": "even-newer-password",
	})
	if first.Code != http.StatusOK || second.Code != http.StatusBadRequest {
		t.Fatalf("expected 200 then 400, got %d then %d", first.Code, second.Code)
	}
}

func TestForgetPasswordLinkUsesRedirectTo(t *testing.T) {
	sender := &captureEmailSender{}
	e := newTestEngine(t, func(b *Builder) {
		b.WithEmailSender(sender)
	})
	signUp(t, e, "alice@example.com", "correct-horse")

	rec := doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{
		"email":      "alice@example.com",
		"redirectTo": "/account/reset",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("forget-password failed: %d", rec.Code)
	}

	sender.mu.Lock()
	link := sender.resetLinks[len(sender.resetLinks)-1]
	sender.mu.Unlock()
	if !strings.HasPrefix(link, "/account/reset?token=") {
		t.Fatalf("expected redirectTo-based link, got %q", link)
	}
}

func TestForgetPasswordRejectsUntrustedRedirect(t *testing.T) {
	e := newTestEngine(t)
	signUp(t, e, "alice@example.com", "correct-horse")

	rec := doRequest(t, e, http.MethodPost, "/forget-password", map[string]string{
		"email":      "alice@example.com",
		"redirectTo": "https://evil.test/steal",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for untrusted redirect, got %d", rec.Code)
	}
}
