package authcore

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal/audit"
)

// providerCredential is the providerId of password accounts.
const providerCredential = "credential"

type signUpEmailRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Image       string `json:"image"`
	CallbackURL string `json:"callbackURL"`
	RememberMe  *bool  `json:"rememberMe"`
}

func (e *Engine) handleSignUpEmail(rc *RequestContext) (*Response, error) {
	var req signUpEmailRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrBadRequest("Invalid email address")
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}
	if err := e.origin.CheckRedirect(req.CallbackURL); err != nil {
		return nil, err
	}

	digest, err := e.hasher.Hash(req.Password)
	if err != nil {
		e.logger.Error("password hash failed", "err", err)
		return nil, ErrInternal("internal server error")
	}

	var user *User
	txErr := e.store.db.Transaction(rc.ctx, func(tx adapter.Adapter) error {
		txStore := newStore(tx, e.logger)

		u, err := txStore.CreateUser(rc.ctx, &User{
			Email: email,
			Name:  strings.TrimSpace(req.Name),
			Image: req.Image,
		})
		if err != nil {
			return err
		}

		if _, err := txStore.CreateAccount(rc.ctx, &Account{
			ProviderID: providerCredential,
			AccountID:  u.ID,
			UserID:     u.ID,
			Password:   digest,
		}); err != nil {
			return err
		}

		user = u
		return nil
	})
	if errors.Is(txErr, adapter.ErrUniqueViolation) {
		e.metrics.Inc(MetricSignUpDuplicate)
		return nil, ErrBadRequest(msgUserExists)
	}
	if txErr != nil {
		return nil, txErr
	}

	e.metrics.Inc(MetricSignUpSuccess)
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventSignUp,
		UserID:    user.ID,
		Path:      rc.Path,
		IP:        rc.ClientIP(),
		Success:   true,
	})

	if e.cfg.EmailPassword.RequireEmailVerification {
		if err := e.sendVerificationEmail(rc, user, req.CallbackURL); err != nil {
			e.logger.Error("verification email failed", "user", user.ID, "err", err)
		}
	}

	if !e.cfg.EmailPassword.AutoSignIn ||
		(e.cfg.EmailPassword.RequireEmailVerification && !user.EmailVerified) {
		return JSONResponse(SignInResult{User: user}), nil
	}

	session, err := e.establishSession(rc, user, req.RememberMe != nil && !*req.RememberMe)
	if err != nil {
		// Partial failure after the user exists is surfaced, not rolled back.
		return nil, err
	}
	return JSONResponse(SignInResult{User: user, Session: session}), nil
}

type signInEmailRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CallbackURL string `json:"callbackURL"`
	RememberMe  *bool  `json:"rememberMe"`
}

func (e *Engine) handleSignInEmail(rc *RequestContext) (*Response, error) {
	var req signInEmailRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}
	if req.Email == "" || req.Password == "" {
		return nil, ErrBadRequest("Email and password are required")
	}
	if err := e.origin.CheckRedirect(req.CallbackURL); err != nil {
		return nil, err
	}

	fail := func() (*Response, error) {
		e.metrics.Inc(MetricSignInFailure)
		e.audit.Emit(rc.ctx, audit.Event{
			Timestamp: time.Now(),
			EventType: audit.EventSignInFailure,
			Path:      rc.Path,
			IP:        rc.ClientIP(),
		})
		return nil, ErrUnauthorized(msgInvalidCredentials)
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		e.equalizeHashCost(rc, req.Password)
		return fail()
	}

	user, err := e.store.FindUserByEmail(rc.ctx, email)
	if errors.Is(err, adapter.ErrNotFound) {
		e.equalizeHashCost(rc, req.Password)
		return fail()
	}
	if err != nil {
		return nil, err
	}

	account, err := e.store.FindAccountByUserAndProvider(rc.ctx, user.ID, providerCredential)
	if errors.Is(err, adapter.ErrNotFound) || (err == nil && account.Password == "") {
		e.equalizeHashCost(rc, req.Password)
		return fail()
	}
	if err != nil {
		return nil, err
	}

	ok, err := e.hasher.Verify(req.Password, account.Password)
	if err != nil {
		e.logger.Error("password verify failed", "user", user.ID, "err", err)
		return fail()
	}
	if !ok {
		return fail()
	}

	if e.cfg.EmailPassword.RequireEmailVerification && !user.EmailVerified {
		return nil, ErrForbidden("Email not verified")
	}

	session, err := e.establishSession(rc, user, req.RememberMe != nil && !*req.RememberMe)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricSignInSuccess)
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventSignInSuccess,
		UserID:    user.ID,
		SessionID: session.ID,
		Path:      rc.Path,
		IP:        rc.ClientIP(),
		Success:   true,
	})

	body := SignInResult{User: user, Session: session}
	if req.CallbackURL != "" {
		body.Redirect = true
		body.URL = req.CallbackURL
	}
	return JSONResponse(body), nil
}

// equalizeHashCost makes the account-missing branches of sign-in pay the
// same KDF cost as a real verification, and registers the substitute
// response served when enumeration protection is active. Without it, the
// fast path would reveal that no such account exists.
func (e *Engine) equalizeHashCost(rc *RequestContext, suppliedPassword string) {
	hashCost := func() {
		_, _ = e.hasher.Hash(suppliedPassword)
	}
	rc.SetEnumerationSafeResponse(&Response{
		Status: http.StatusUnauthorized,
		Body:   map[string]string{"code": CodeUnauthorized, "message": msgInvalidCredentials},
	}, hashCost)
	if !e.cfg.enumerationProtectionEnabled() {
		// Still pay the cost in development so behavior does not drift.
		hashCost()
	}
}

// establishSession creates a session for user and attaches its cookies.
func (e *Engine) establishSession(rc *RequestContext, user *User, dontRemember bool) (*Session, error) {
	session, err := e.sessions.Create(rc.ctx, user, rc.ClientIP(), rc.UserAgent(), dontRemember)
	if err != nil {
		return nil, err
	}

	maxAge := time.Until(session.ExpiresAt)
	if dontRemember {
		// Browser-session cookie: omit Max-Age entirely.
		maxAge = 0
		rc.SetCookie(e.cookies.DontRememberCookie(e.cfg.Advanced.DontRememberTTL))
	}
	rc.SetCookie(e.cookies.SessionCookie(session.Token, maxAge))

	if e.cfg.Session.CookieCache.Enabled {
		if cache, err := e.cookies.CacheCookie(&SessionResult{Session: session, User: user}, e.cfg.Session.CookieCache.TTL); err == nil {
			rc.SetCookie(cache)
		}
	}
	return session, nil
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < e.cfg.EmailPassword.MinPasswordLength {
		return ErrBadRequest("Password too short")
	}
	if len(pw) > e.cfg.EmailPassword.MaxPasswordLength {
		return ErrBadRequest("Password too long")
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("empty email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.New("invalid email")
	}
	return email, nil
}
