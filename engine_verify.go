package authcore

import (
	"errors"
	"net/url"

	"github.com/authcore-dev/authcore/adapter"
)

// sendVerificationEmail issues a single-use verification token and hands the
// action URL to the email sender. The callback URL rides along so the
// verify-email handler can redirect after success.
func (e *Engine) sendVerificationEmail(rc *RequestContext, user *User, callbackURL string) error {
	token, err := e.store.issueToken(rc.ctx, identEmailVerify, user.ID, e.cfg.Verification.DefaultTTL)
	if err != nil {
		return err
	}

	q := url.Values{"token": {token}}
	if callbackURL != "" {
		q.Set("callbackURL", callbackURL)
	}
	link := e.cfg.BaseURL + e.cfg.BasePath + "/verify-email?" + q.Encode()
	return e.emails.SendVerificationEmail(rc.ctx, user, link)
}

type sendVerificationEmailRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callbackURL"`
}

// handleSendVerificationEmail (re)sends the verification link. The response
// is identical whether or not the address belongs to an account.
func (e *Engine) handleSendVerificationEmail(rc *RequestContext) (*Response, error) {
	var req sendVerificationEmailRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrBadRequest("Invalid email address")
	}
	if err := e.origin.CheckRedirect(req.CallbackURL); err != nil {
		return nil, err
	}

	user, err := e.store.FindUserByEmail(rc.ctx, email)
	if errors.Is(err, adapter.ErrNotFound) {
		return JSONResponse(map[string]bool{"status": true}), nil
	}
	if err != nil {
		return nil, err
	}

	if !user.EmailVerified {
		if err := e.sendVerificationEmail(rc, user, req.CallbackURL); err != nil {
			e.logger.Error("verification email failed", "user", user.ID, "err", err)
			return nil, ErrInternal("internal server error")
		}
	}
	return JSONResponse(map[string]bool{"status": true}), nil
}

// handleVerifyEmail redeems a verification token. The token is single-use:
// a second redemption fails even when the first succeeded moments earlier.
func (e *Engine) handleVerifyEmail(rc *RequestContext) (*Response, error) {
	token := rc.Query.Get("token")
	if token == "" {
		return nil, ErrBadRequest(msgInvalidToken)
	}

	callbackURL := rc.Query.Get("callbackURL")
	if err := e.origin.CheckRedirect(callbackURL); err != nil {
		return nil, err
	}

	userID, err := e.store.consumeToken(rc.ctx, identEmailVerify, token)
	if err != nil {
		e.metrics.Inc(MetricVerificationExpired)
		return nil, ErrBadRequest(msgInvalidToken)
	}
	e.metrics.Inc(MetricVerificationConsumed)

	user, err := e.store.UpdateUser(rc.ctx, userID, adapter.Row{"emailVerified": true})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, ErrBadRequest(msgInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	if callbackURL != "" {
		return RedirectResponse(callbackURL), nil
	}
	return JSONResponse(map[string]any{"status": true, "user": user}), nil
}

type forgetPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

// handleForgetPassword issues a password-reset token. The response never
// reveals whether the address belongs to an account.
func (e *Engine) handleForgetPassword(rc *RequestContext) (*Response, error) {
	var req forgetPasswordRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrBadRequest("Invalid email address")
	}
	if err := e.origin.CheckRedirect(req.RedirectTo); err != nil {
		return nil, err
	}

	ok := JSONResponse(map[string]bool{"status": true})

	user, err := e.store.FindUserByEmail(rc.ctx, email)
	if errors.Is(err, adapter.ErrNotFound) {
		return ok, nil
	}
	if err != nil {
		return nil, err
	}

	token, err := e.store.issueToken(rc.ctx, identPasswordReset, user.ID, e.cfg.Verification.DefaultTTL)
	if err != nil {
		return nil, err
	}

	link := req.RedirectTo
	if link == "" {
		link = e.cfg.BaseURL + e.cfg.BasePath + "/reset-password"
	} else if !isSafeRelativePath(link) && !e.origin.MatchesOrigin(link) {
		return nil, ErrForbidden("Redirect URL not trusted")
	}
	link += "?token=" + url.QueryEscape(token)

	if err := e.emails.SendPasswordReset(rc.ctx, user, link); err != nil {
		e.logger.Error("password reset email failed", "user", user.ID, "err", err)
	}
	return ok, nil
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// handleResetPassword redeems a reset token, replaces the credential digest,
// and revokes every session of the user.
func (e *Engine) handleResetPassword(rc *RequestContext) (*Response, error) {
	var req resetPasswordRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, ErrBadRequest(msgInvalidToken)
	}
	if err := e.checkPasswordPolicy(req.NewPassword); err != nil {
		return nil, err
	}

	userID, err := e.store.consumeToken(rc.ctx, identPasswordReset, req.Token)
	if err != nil {
		e.metrics.Inc(MetricVerificationExpired)
		return nil, ErrBadRequest(msgInvalidToken)
	}
	e.metrics.Inc(MetricVerificationConsumed)

	account, err := e.store.FindAccountByUserAndProvider(rc.ctx, userID, providerCredential)
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, ErrBadRequest(msgInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	digest, err := e.hasher.Hash(req.NewPassword)
	if err != nil {
		e.logger.Error("password hash failed", "err", err)
		return nil, ErrInternal("internal server error")
	}
	if err := e.store.UpdateAccount(rc.ctx, account.ID, adapter.Row{"password": digest}); err != nil {
		return nil, err
	}

	// A stolen reset link must not leave old sessions alive.
	if _, err := e.sessions.RevokeAll(rc.ctx, userID, ""); err != nil {
		e.logger.Error("session revocation after reset failed", "user", userID, "err", err)
	}
	return JSONResponse(map[string]bool{"status": true}), nil
}
