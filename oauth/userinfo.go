package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// GetUserInfo normalizes the provider's identity claims. When the token
// response carries an ID token it is decoded without signature verification:
// it arrived directly from the token endpoint over TLS, so the transport
// authenticates it. Tokens received any other way go through VerifyIDToken.
func (p *GenericProvider) GetUserInfo(ctx context.Context, tokens *Tokens) (*UserInfo, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: no tokens", ErrUserInfo)
	}

	if tokens.IDToken != "" && !p.cfg.PreferUserInfoEndpoint {
		info, err := decodeIDTokenClaims(tokens.IDToken)
		if err == nil && info.ID != "" {
			return info, nil
		}
		// Malformed or claim-poor ID token: fall through to the profile
		// endpoint when one is configured.
	}

	if p.cfg.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%w: provider %s has no user info source", ErrUserInfo, p.cfg.ProviderID)
	}
	return p.fetchUserInfo(ctx, tokens.AccessToken)
}

func (p *GenericProvider) fetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: no access token", ErrUserInfo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %s unreachable", ErrUserInfo, p.cfg.ProviderID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: provider %s returned %d", ErrUserInfo, p.cfg.ProviderID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfo, err)
	}
	return normalizeClaims(claims), nil
}

// VerifyIDToken verifies signature, issuer, audience, and (when supplied)
// nonce of an externally received ID token against the provider's JWKS.
// Only available when the config names a JWKS endpoint.
func (p *GenericProvider) VerifyIDToken(ctx context.Context, idToken, nonce string) (*UserInfo, error) {
	if p.cfg.JWKSEndpoint == "" {
		return nil, fmt.Errorf("%w: provider %s has no JWKS endpoint", ErrInvalidIDToken, p.cfg.ProviderID)
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{p.cfg.JWKSEndpoint})
	if err != nil {
		return nil, fmt.Errorf("%w: jwks unavailable", ErrInvalidIDToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithAudience(p.cfg.ClientID),
	}
	if p.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.cfg.Issuer))
	}

	token, err := jwt.Parse(idToken, jwks.Keyfunc, parserOpts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: provider %s", ErrInvalidIDToken, p.cfg.ProviderID)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidIDToken)
	}
	if nonce != "" {
		got, _ := claims["nonce"].(string)
		if got != nonce {
			return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
		}
	}
	return normalizeClaims(map[string]any(claims)), nil
}

// decodeIDTokenClaims extracts identity claims without verification.
func decodeIDTokenClaims(idToken string) (*UserInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	return normalizeClaims(map[string]any(claims)), nil
}

// normalizeClaims maps the usual claim spellings onto UserInfo. Providers
// disagree on picture/avatar and on email_verified being bool or string.
func normalizeClaims(claims map[string]any) *UserInfo {
	info := &UserInfo{
		ID:    firstString(claims, "sub", "id", "user_id"),
		Name:  firstString(claims, "name", "login", "username"),
		Email: strings.ToLower(firstString(claims, "email")),
		Image: firstString(claims, "picture", "avatar_url", "image"),
	}

	switch v := claims["email_verified"].(type) {
	case bool:
		info.EmailVerified = v
	case string:
		info.EmailVerified = v == "true"
	}

	if info.Name == "" {
		given := firstString(claims, "given_name")
		family := firstString(claims, "family_name")
		info.Name = strings.TrimSpace(given + " " + family)
	}
	return info
}

func firstString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			// Numeric ids (e.g. GitHub) arrive as float64 through
			// encoding/json.
			return strings.TrimSuffix(fmt.Sprintf("%.0f", v), ".")
		}
	}
	return ""
}
