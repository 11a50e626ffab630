package twofactor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	authcore "github.com/authcore-dev/authcore"
	"github.com/authcore-dev/authcore/adapter"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// pluginID is the registration key.
	pluginID = "two-factor"
	// pendingCookie marks a sign-in that passed the password check but still
	// owes a second factor. The value is the signed user id.
	pendingCookie = "two_factor_pending"
	// secretProviderID is the account row holding the TOTP secret.
	secretProviderID = "two-factor"
	// otpIdentifierPrefix namespaces email-OTP challenges per user.
	otpIdentifierPrefix = "2fa-otp-"

	pendingTTL = 10 * time.Minute

	totpPeriod = 30
	totpSkew   = 1
)

// SendOTP delivers a one-time code to the user out of band (email, SMS).
type SendOTP func(ctx context.Context, user *authcore.User, code string) error

// Options configures the plugin.
type Options struct {
	// Issuer appears in authenticator apps. Defaults to the app name.
	Issuer string
	// SendOTP enables the email-OTP second factor. Without it only TOTP
	// verification is available.
	SendOTP SendOTP
}

// Plugin adds a second authentication factor: after a correct password, the
// sign-in response is replaced with {twoFactorRedirect: true} and the session
// is withheld until /two-factor/verify-otp or /two-factor/verify-totp
// succeeds.
type Plugin struct {
	opts   Options
	engine *authcore.Engine
}

// New creates the two-factor plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts}
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Init(e *authcore.Engine) error {
	p.engine = e
	if p.opts.Issuer == "" {
		p.opts.Issuer = e.Config().AppName
	}
	if p.opts.Issuer == "" {
		p.opts.Issuer = "authcore"
	}
	return nil
}

func (p *Plugin) Endpoints() []authcore.Endpoint {
	return []authcore.Endpoint{
		{Method: http.MethodPost, Path: "/two-factor/enable", Handler: p.handleEnable,
			Metadata: authcore.EndpointMetadata{RequireSession: true}},
		{Method: http.MethodPost, Path: "/two-factor/disable", Handler: p.handleDisable,
			Metadata: authcore.EndpointMetadata{RequireSession: true}},
		{Method: http.MethodPost, Path: "/two-factor/send-otp", Handler: p.handleSendOTP,
			Metadata: authcore.EndpointMetadata{RateLimit: &authcore.RateLimitRule{Window: time.Minute, Max: 3}}},
		{Method: http.MethodPost, Path: "/two-factor/verify-otp", Handler: p.handleVerifyOTP,
			Metadata: authcore.EndpointMetadata{RateLimit: &authcore.RateLimitRule{Window: time.Minute, Max: 10}}},
		{Method: http.MethodPost, Path: "/two-factor/verify-totp", Handler: p.handleVerifyTOTP,
			Metadata: authcore.EndpointMetadata{RateLimit: &authcore.RateLimitRule{Window: time.Minute, Max: 10}}},
	}
}

func (p *Plugin) Hooks() []authcore.Hook {
	return []authcore.Hook{
		{
			Phase:   authcore.HookAfter,
			Matcher: authcore.PathMatcher("/sign-in/email"),
			After:   p.interceptSignIn,
		},
	}
}

// interceptSignIn withholds the session from users with a second factor
// enabled: the freshly created session is revoked, its cookies cleared, and
// the response replaced with a two-factor challenge marker.
func (p *Plugin) interceptSignIn(rc *authcore.RequestContext, resp *authcore.Response, err error) (*authcore.Response, error) {
	if err != nil || resp == nil {
		return resp, err
	}

	result, ok := resp.Body.(authcore.SignInResult)
	if !ok || result.User == nil || !result.User.TwoFactorEnabled {
		return resp, err
	}

	if result.Session != nil {
		if rerr := p.engine.RevokeSessionToken(rc.Context(), result.Session.Token); rerr != nil {
			return nil, rerr
		}
	}

	replaced := &authcore.Response{
		Status: http.StatusOK,
		Body:   map[string]bool{"twoFactorRedirect": true},
	}
	replaced.Cookies = append(replaced.Cookies,
		p.engine.ClearNamedCookie("session_token"),
		p.engine.ClearNamedCookie("session_data"),
		p.engine.SignedCookie(pendingCookie, result.User.ID, pendingTTL),
	)
	return replaced, nil
}

// pendingUserID resolves the user owing a second factor from the signed
// pending cookie.
func (p *Plugin) pendingUserID(rc *authcore.RequestContext) (string, error) {
	userID, ok := p.engine.ReadSignedCookie(rc.Request(), pendingCookie)
	if !ok || userID == "" {
		return "", authcore.ErrUnauthorized("Two factor not in progress")
	}
	return userID, nil
}

type enableResponse struct {
	Secret  string `json:"secret"`
	TOTPURI string `json:"totpURI"`
}

// handleEnable provisions a TOTP secret for the signed-in user and flips the
// user's two-factor flag. The otpauth:// URI feeds authenticator apps.
func (p *Plugin) handleEnable(rc *authcore.RequestContext) (*authcore.Response, error) {
	user := rc.Session.User

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.opts.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	db := p.engine.Adapter()
	where := []adapter.Where{
		{Field: "userId", Value: user.ID},
		{Field: "providerId", Value: secretProviderID},
	}

	// Re-enabling replaces the previous secret.
	if err := db.Delete(rc.Context(), "account", where); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}
	now := time.Now()
	if _, err := db.Create(rc.Context(), "account", adapter.Row{
		"id":         user.ID + ":" + secretProviderID,
		"providerId": secretProviderID,
		"accountId":  user.ID,
		"userId":     user.ID,
		"password":   key.Secret(),
		"createdAt":  now,
		"updatedAt":  now,
	}); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	if _, err := db.Update(rc.Context(), "user", []adapter.Where{{Field: "id", Value: user.ID}}, adapter.Row{
		"twoFactorEnabled": true,
		"updatedAt":        now,
	}); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	return authcore.JSONResponse(enableResponse{Secret: key.Secret(), TOTPURI: key.URL()}), nil
}

func (p *Plugin) handleDisable(rc *authcore.RequestContext) (*authcore.Response, error) {
	user := rc.Session.User
	db := p.engine.Adapter()

	if err := db.Delete(rc.Context(), "account", []adapter.Where{
		{Field: "userId", Value: user.ID},
		{Field: "providerId", Value: secretProviderID},
	}); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}
	if _, err := db.Update(rc.Context(), "user", []adapter.Where{{Field: "id", Value: user.ID}}, adapter.Row{
		"twoFactorEnabled": false,
		"updatedAt":        time.Now(),
	}); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	return authcore.JSONResponse(map[string]bool{"status": true}), nil
}

// handleSendOTP issues the email-OTP challenge for a pending sign-in.
func (p *Plugin) handleSendOTP(rc *authcore.RequestContext) (*authcore.Response, error) {
	if p.opts.SendOTP == nil {
		return nil, authcore.ErrBadRequest("OTP delivery is not configured")
	}

	userID, err := p.pendingUserID(rc)
	if err != nil {
		return nil, err
	}

	user, err := p.findUser(rc.Context(), userID)
	if err != nil {
		return nil, err
	}

	code, err := p.engine.Verifications().IssueOTP(rc.Context(), otpIdentifierPrefix+userID)
	if err != nil {
		return nil, err
	}
	if err := p.opts.SendOTP(rc.Context(), user, code); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	return authcore.JSONResponse(map[string]bool{"status": true}), nil
}

type verifyRequest struct {
	Code string `json:"code"`
}

// handleVerifyOTP completes a pending sign-in with an emailed code. Attempts
// are bounded; exhausting them deletes the challenge.
func (p *Plugin) handleVerifyOTP(rc *authcore.RequestContext) (*authcore.Response, error) {
	userID, err := p.pendingUserID(rc)
	if err != nil {
		return nil, err
	}

	var req verifyRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, authcore.ErrBadRequest("Code is required")
	}

	if err := p.engine.Verifications().CheckOTP(rc.Context(), otpIdentifierPrefix+userID, req.Code); err != nil {
		p.engine.Metrics().Inc(authcore.MetricTwoFactorFailure)
		return nil, err
	}

	return p.completeSignIn(rc, userID)
}

// handleVerifyTOTP completes a pending sign-in with an authenticator code.
func (p *Plugin) handleVerifyTOTP(rc *authcore.RequestContext) (*authcore.Response, error) {
	userID, err := p.pendingUserID(rc)
	if err != nil {
		return nil, err
	}

	var req verifyRequest
	if err := rc.BindJSON(&req); err != nil {
		return nil, err
	}

	secret, err := p.totpSecret(rc.Context(), userID)
	if err != nil {
		return nil, err
	}

	valid, err := totp.ValidateCustom(req.Code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period: totpPeriod,
		Skew:   totpSkew,
		Digits: otp.DigitsSix,
	})
	if err != nil || !valid {
		p.engine.Metrics().Inc(authcore.MetricTwoFactorFailure)
		return nil, authcore.ErrUnauthorized("Invalid code")
	}

	return p.completeSignIn(rc, userID)
}

func (p *Plugin) completeSignIn(rc *authcore.RequestContext, userID string) (*authcore.Response, error) {
	result, err := p.engine.CreateSessionFor(rc, userID)
	if err != nil {
		return nil, err
	}

	rc.SetCookie(p.engine.ClearNamedCookie(pendingCookie))
	p.engine.Metrics().Inc(authcore.MetricTwoFactorSuccess)
	return authcore.JSONResponse(authcore.SignInResult{User: result.User, Session: result.Session}), nil
}

func (p *Plugin) findUser(ctx context.Context, userID string) (*authcore.User, error) {
	row, err := p.engine.Adapter().FindOne(ctx, "user", []adapter.Where{{Field: "id", Value: userID}})
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, authcore.ErrUnauthorized("Two factor not in progress")
	}
	if err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}

	data, err := json.Marshal(row)
	if err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}
	var user authcore.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, authcore.ErrInternal("internal server error")
	}
	return &user, nil
}

func (p *Plugin) totpSecret(ctx context.Context, userID string) (string, error) {
	row, err := p.engine.Adapter().FindOne(ctx, "account", []adapter.Where{
		{Field: "userId", Value: userID},
		{Field: "providerId", Value: secretProviderID},
	})
	if errors.Is(err, adapter.ErrNotFound) {
		return "", authcore.ErrBadRequest("Two factor is not enabled")
	}
	if err != nil {
		return "", authcore.ErrInternal("internal server error")
	}

	secret, _ := row["password"].(string)
	if secret == "" {
		return "", authcore.ErrBadRequest("Two factor is not enabled")
	}
	return secret, nil
}
