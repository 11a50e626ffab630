package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ProviderConfig describes one OAuth2/OIDC provider declaratively. Vendor
// quirks (claims, extra parameters, tenant endpoints) are data here.
type ProviderConfig struct {
	// ProviderID is the registry key and the callback path segment.
	ProviderID   string
	ClientID     string
	ClientSecret string

	AuthorizationEndpoint string
	TokenEndpoint         string
	// UserInfoEndpoint is called with a Bearer token when the token response
	// carries no usable ID token, or when PreferUserInfoEndpoint is set.
	UserInfoEndpoint string

	// Issuer and JWKSEndpoint enable the IDTokenVerifier capability.
	Issuer       string
	JWKSEndpoint string

	// DefaultScopes are always requested.
	DefaultScopes []string
	// DisablePKCE turns the code challenge off for providers that reject it.
	DisablePKCE bool
	// PreferUserInfoEndpoint fetches the profile endpoint even when an ID
	// token is present.
	PreferUserInfoEndpoint bool

	// ExtraAuthParams are appended to every authorization URL.
	ExtraAuthParams map[string]string
	// ExtraRefreshParams are appended to every refresh request (e.g.
	// providers that require re-declaring scope).
	ExtraRefreshParams map[string]string

	// HTTPClient overrides http.DefaultClient for outbound calls.
	HTTPClient *http.Client
}

// GenericProvider implements Provider from a ProviderConfig.
type GenericProvider struct {
	cfg ProviderConfig
}

// NewGenericProvider validates the config and returns the provider.
func NewGenericProvider(cfg ProviderConfig) (*GenericProvider, error) {
	if cfg.ProviderID == "" {
		return nil, fmt.Errorf("oauth: provider id is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth: provider %q: client id is required", cfg.ProviderID)
	}
	if cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, fmt.Errorf("oauth: provider %q: authorization and token endpoints are required", cfg.ProviderID)
	}
	if cfg.UserInfoEndpoint == "" && cfg.JWKSEndpoint == "" {
		return nil, fmt.Errorf("oauth: provider %q: a user info endpoint or JWKS endpoint is required", cfg.ProviderID)
	}
	return &GenericProvider{cfg: cfg}, nil
}

func (p *GenericProvider) ID() string {
	return p.cfg.ProviderID
}

// Config exposes the provider configuration (read-only by convention).
func (p *GenericProvider) Config() ProviderConfig {
	return p.cfg
}

func (p *GenericProvider) oauth2Config(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.cfg.AuthorizationEndpoint,
			TokenURL: p.cfg.TokenEndpoint,
		},
	}
}

func (p *GenericProvider) httpClient() *http.Client {
	if p.cfg.HTTPClient != nil {
		return p.cfg.HTTPClient
	}
	return http.DefaultClient
}

// CreateAuthorizationURL builds the authorization redirect, appending the
// S256 PKCE challenge when a code verifier is supplied and PKCE is enabled.
func (p *GenericProvider) CreateAuthorizationURL(req AuthorizationRequest) (string, error) {
	if req.State == "" {
		return "", fmt.Errorf("oauth: state is required")
	}

	scopes := mergeScopes(p.cfg.DefaultScopes, req.Scopes)
	conf := p.oauth2Config(req.RedirectURI, scopes)

	opts := make([]oauth2.AuthCodeOption, 0, 3+len(p.cfg.ExtraAuthParams))
	if req.CodeVerifier != "" && !p.cfg.DisablePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(req.CodeVerifier))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	for key, value := range p.cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}

	return conf.AuthCodeURL(req.State, opts...), nil
}

// ValidateAuthorizationCode exchanges the code, sending the PKCE verifier
// when one was bound to the authorization request.
func (p *GenericProvider) ValidateAuthorizationCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Tokens, error) {
	conf := p.oauth2Config(redirectURI, nil)

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" && !p.cfg.DisablePKCE {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		// Provider error bodies stay out of the returned error.
		return nil, fmt.Errorf("%w: provider %s", ErrTokenExchange, p.cfg.ProviderID)
	}
	return fromOAuth2Token(token), nil
}

// RefreshAccessToken posts a refresh_token grant directly so providers that
// require extra parameters on refresh can be expressed as configuration.
func (p *GenericProvider) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrTokenExchange)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	for key, value := range p.cfg.ExtraRefreshParams {
		form.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s unreachable", ErrTokenExchange, p.cfg.ProviderID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: provider %s", ErrTokenExchange, p.cfg.ProviderID)
	}

	var payload tokenEndpointResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: provider %s", ErrTokenExchange, p.cfg.ProviderID)
	}

	tokens := &Tokens{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
	}
	if tokens.RefreshToken == "" {
		// Providers that do not rotate keep the old one valid.
		tokens.RefreshToken = refreshToken
	}
	if payload.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tokens, nil
}

type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

func fromOAuth2Token(token *oauth2.Token) *Tokens {
	out := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}
