package oauth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenExchange covers any token-endpoint failure. Raw provider error
	// bodies are logged by the caller, never wrapped into this error.
	ErrTokenExchange = errors.New("token exchange failed")
	// ErrUserInfo covers profile-endpoint and claim-normalization failures.
	ErrUserInfo = errors.New("user info retrieval failed")
	// ErrInvalidIDToken covers ID-token signature or claim failures.
	ErrInvalidIDToken = errors.New("invalid id token")
	// ErrInvalidClient covers client-assertion failures, replays included.
	ErrInvalidClient = errors.New("invalid_client")
)

// Tokens is the normalized token-endpoint response.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresAt    time.Time
	Scope        string
}

// UserInfo is the provider-independent identity shape.
type UserInfo struct {
	ID            string
	Name          string
	Email         string
	Image         string
	EmailVerified bool
}

// AuthorizationRequest carries everything CreateAuthorizationURL needs for
// one authorization redirect.
type AuthorizationRequest struct {
	State string
	// CodeVerifier enables PKCE when non-empty: the S256 challenge derived
	// from it is appended to the URL.
	CodeVerifier string
	// Scopes are merged with the provider's defaults, de-duplicated,
	// preserving first-seen order.
	Scopes      []string
	RedirectURI string
	LoginHint   string
}

// Provider is the per-vendor protocol capability. Implementations must be
// safe for concurrent use.
type Provider interface {
	ID() string
	CreateAuthorizationURL(req AuthorizationRequest) (string, error)
	// ValidateAuthorizationCode exchanges code at the token endpoint.
	// Non-2xx responses surface as ErrTokenExchange.
	ValidateAuthorizationCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Tokens, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error)
	GetUserInfo(ctx context.Context, tokens *Tokens) (*UserInfo, error)
}

// IDTokenVerifier is the optional capability of providers that can verify an
// externally supplied ID token (token sign-in, not just the code flow).
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken, nonce string) (*UserInfo, error)
}

// mergeScopes de-duplicates defaults+extra preserving first-seen order.
func mergeScopes(defaults, extra []string) []string {
	seen := make(map[string]bool, len(defaults)+len(extra))
	out := make([]string, 0, len(defaults)+len(extra))
	for _, group := range [][]string{defaults, extra} {
		for _, s := range group {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
