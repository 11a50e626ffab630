package authcore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal"
	"github.com/authcore-dev/authcore/internal/audit"
	"github.com/authcore-dev/authcore/oauth"
)

type signInSocialRequest struct {
	Provider           string   `json:"provider"`
	CallbackURL        string   `json:"callbackURL"`
	ErrorCallbackURL   string   `json:"errorCallbackURL"`
	NewUserCallbackURL string   `json:"newUserCallbackURL"`
	Scopes             []string `json:"scopes"`
	LoginHint          string   `json:"loginHint"`
	RequestSignUp      bool     `json:"requestSignUp"`
	IDToken            *struct {
		Token string `json:"token"`
		Nonce string `json:"nonce"`
	} `json:"idToken"`
}

// handleSignInSocial either completes an ID-token sign-in directly or starts
// the authorization-code round trip by persisting a state record and
// returning the provider redirect URL.
func (e *Engine) handleSignInSocial(rc *RequestContext) (*Response, error) {
	var req signInSocialRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	provider, ok := e.providers[req.Provider]
	if !ok {
		return nil, ErrNotFound("Provider not found")
	}

	for _, target := range []string{req.CallbackURL, req.ErrorCallbackURL, req.NewUserCallbackURL} {
		if err := e.origin.CheckRedirect(target); err != nil {
			return nil, err
		}
	}

	// Direct ID-token flow: the client already holds a provider-issued ID
	// token (native SDK sign-in) and we verify it against the provider JWKS.
	if req.IDToken != nil && req.IDToken.Token != "" {
		verifier, ok := provider.(oauth.IDTokenVerifier)
		if !ok {
			return nil, ErrBadRequest("Provider does not support id token sign-in")
		}

		info, err := verifier.VerifyIDToken(rc.ctx, req.IDToken.Token, req.IDToken.Nonce)
		if err != nil {
			e.metrics.Inc(MetricSignInFailure)
			return nil, ErrUnauthorized(msgInvalidToken)
		}

		user, _, err := e.resolveOAuthUser(rc, provider.ID(), info, &oauth.Tokens{IDToken: req.IDToken.Token}, req.RequestSignUp)
		if err != nil {
			return nil, err
		}

		session, err := e.establishSession(rc, user, false)
		if err != nil {
			return nil, err
		}
		e.metrics.Inc(MetricSignInSuccess)
		return JSONResponse(SocialSignInResult{Redirect: false, Token: session.Token, User: user}), nil
	}

	state, err := internal.NewToken(internal.MinTokenLength)
	if err != nil {
		return nil, ErrInternal("internal server error")
	}
	codeVerifier, err := internal.NewCodeVerifier()
	if err != nil {
		return nil, ErrInternal("internal server error")
	}

	record, err := json.Marshal(OAuthStateRecord{
		CodeVerifier:       codeVerifier,
		CallbackURL:        req.CallbackURL,
		ErrorCallbackURL:   req.ErrorCallbackURL,
		NewUserCallbackURL: req.NewUserCallbackURL,
		ProviderID:         provider.ID(),
		RequestSignUp:      req.RequestSignUp,
	})
	if err != nil {
		return nil, ErrInternal("internal server error")
	}
	if _, err := e.store.CreateVerification(rc.ctx, verificationIdentifier(identOAuthState, state), string(record), e.cfg.OAuth.StateTTL); err != nil {
		return nil, err
	}

	authURL, err := provider.CreateAuthorizationURL(oauth.AuthorizationRequest{
		State:        state,
		CodeVerifier: codeVerifier,
		Scopes:       req.Scopes,
		RedirectURI:  e.callbackURL(provider.ID()),
		LoginHint:    req.LoginHint,
	})
	if err != nil {
		e.logger.Error("authorization url build failed", "provider", provider.ID(), "err", err)
		return nil, ErrInternal("internal server error")
	}

	e.metrics.Inc(MetricOAuthRedirect)
	e.audit.Emit(rc.ctx, audit.Event{
		Timestamp: time.Now(),
		EventType: audit.EventOAuthRedirect,
		Path:      rc.Path,
		Provider:  provider.ID(),
		IP:        rc.ClientIP(),
		Success:   true,
	})
	return JSONResponse(SocialSignInResult{Redirect: true, URL: authURL}), nil
}

func (e *Engine) callbackURL(providerID string) string {
	return e.cfg.BaseURL + e.cfg.BasePath + "/callback/" + providerID
}

// resolveOAuthUser finds or creates the user for a federated identity and
// links the provider account, updating stored tokens on re-login. The bool
// result reports whether the user was created by this call.
func (e *Engine) resolveOAuthUser(rc *RequestContext, providerID string, info *oauth.UserInfo, tokens *oauth.Tokens, requestSignUp bool) (*User, bool, error) {
	if info == nil || info.ID == "" {
		return nil, false, ErrUnauthorized(msgInvalidToken)
	}

	account, err := e.store.FindAccount(rc.ctx, providerID, info.ID)
	if err == nil {
		user, uerr := e.store.FindUserByID(rc.ctx, account.UserID)
		if uerr != nil {
			return nil, false, uerr
		}
		if terr := e.store.UpdateAccount(rc.ctx, account.ID, tokenPatch(tokens)); terr != nil {
			e.logger.Warn("account token update failed", "account", account.ID, "err", terr)
		}
		return user, false, nil
	}
	if !errors.Is(err, adapter.ErrNotFound) {
		return nil, false, err
	}

	// No linked account yet. Attach to an existing user with the same
	// verified email, otherwise create a new user.
	var user *User
	created := false
	if info.Email != "" {
		existing, ferr := e.store.FindUserByEmail(rc.ctx, info.Email)
		if ferr == nil {
			if !info.EmailVerified {
				// Linking by unverified email would let a provider account
				// take over an existing user.
				return nil, false, ErrUnauthorized("Email not verified by provider")
			}
			user = existing
		} else if !errors.Is(ferr, adapter.ErrNotFound) {
			return nil, false, ferr
		}
	}

	if user == nil {
		if info.Email == "" && !requestSignUp {
			return nil, false, ErrUnauthorized("Provider returned no email")
		}
		newUser, cerr := e.store.CreateUser(rc.ctx, &User{
			Email:         info.Email,
			Name:          info.Name,
			Image:         info.Image,
			EmailVerified: info.EmailVerified,
		})
		if errors.Is(cerr, adapter.ErrUniqueViolation) {
			return nil, false, ErrBadRequest(msgUserExists)
		}
		if cerr != nil {
			return nil, false, cerr
		}
		user = newUser
		created = true
	}

	newAccount := &Account{
		ProviderID: providerID,
		AccountID:  info.ID,
		UserID:     user.ID,
		Scope:      tokens.Scope,
	}
	applyTokens(newAccount, tokens)
	if _, aerr := e.store.CreateAccount(rc.ctx, newAccount); aerr != nil {
		return nil, false, aerr
	}
	return user, created, nil
}

func applyTokens(a *Account, tokens *oauth.Tokens) {
	if tokens == nil {
		return
	}
	a.AccessToken = tokens.AccessToken
	a.RefreshToken = tokens.RefreshToken
	a.IDToken = tokens.IDToken
	a.AccessTokenExpiresAt = tokens.ExpiresAt
}

func tokenPatch(tokens *oauth.Tokens) adapter.Row {
	patch := adapter.Row{}
	if tokens == nil {
		return patch
	}
	if tokens.AccessToken != "" {
		patch["accessToken"] = tokens.AccessToken
	}
	if tokens.RefreshToken != "" {
		patch["refreshToken"] = tokens.RefreshToken
	}
	if tokens.IDToken != "" {
		patch["idToken"] = tokens.IDToken
	}
	if !tokens.ExpiresAt.IsZero() {
		patch["accessTokenExpiresAt"] = tokens.ExpiresAt
	}
	if tokens.Scope != "" {
		patch["scope"] = tokens.Scope
	}
	return patch
}
