package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, mutate func(*ProviderConfig)) *GenericProvider {
	t.Helper()

	cfg := ProviderConfig{
		ProviderID:            "acme",
		ClientID:              "client-1",
		ClientSecret:          "secret",
		AuthorizationEndpoint: "https://provider.test/authorize",
		TokenEndpoint:         "https://provider.test/token",
		UserInfoEndpoint:      "https://provider.test/userinfo",
		DefaultScopes:         []string{"openid", "email"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := NewGenericProvider(cfg)
	if err != nil {
		t.Fatalf("NewGenericProvider failed: %v", err)
	}
	return p
}

func TestNewGenericProviderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ProviderConfig)
	}{
		{"missing provider id", func(c *ProviderConfig) { c.ProviderID = "" }},
		{"missing client id", func(c *ProviderConfig) { c.ClientID = "" }},
		{"missing token endpoint", func(c *ProviderConfig) { c.TokenEndpoint = "" }},
		{"no identity source", func(c *ProviderConfig) { c.UserInfoEndpoint = ""; c.JWKSEndpoint = "" }},
	}

	for _, tc := range cases {
		cfg := ProviderConfig{
			ProviderID:            "acme",
			ClientID:              "client-1",
			AuthorizationEndpoint: "https://provider.test/authorize",
			TokenEndpoint:         "https://provider.test/token",
			UserInfoEndpoint:      "https://provider.test/userinfo",
		}
		tc.mutate(&cfg)
		if _, err := NewGenericProvider(cfg); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCreateAuthorizationURL(t *testing.T) {
	p := newTestProvider(t, nil)

	raw, err := p.CreateAuthorizationURL(AuthorizationRequest{
		State:        "state-1",
		CodeVerifier: "verifier-verifier-verifier-verifier-verifier",
		RedirectURI:  "https://app.test/api/auth/callback/acme",
		Scopes:       []string{"profile", "email"},
	})
	if err != nil {
		t.Fatalf("CreateAuthorizationURL failed: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("unparseable URL %q: %v", raw, err)
	}
	q := u.Query()

	if q.Get("client_id") != "client-1" || q.Get("state") != "state-1" {
		t.Fatalf("missing core parameters: %q", raw)
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("response_type = %q", q.Get("response_type"))
	}
	if q.Get("redirect_uri") != "https://app.test/api/auth/callback/acme" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("PKCE challenge missing: %q", raw)
	}
	// Merged scopes, defaults first, de-duplicated.
	if got := q.Get("scope"); got != "openid email profile" {
		t.Fatalf("scope = %q", got)
	}
}

func TestCreateAuthorizationURLDisablePKCE(t *testing.T) {
	p := newTestProvider(t, func(c *ProviderConfig) {
		c.DisablePKCE = true
		c.ExtraAuthParams = map[string]string{"access_type": "offline"}
	})

	raw, err := p.CreateAuthorizationURL(AuthorizationRequest{
		State:        "state-1",
		CodeVerifier: "verifier-verifier-verifier-verifier-verifier",
		RedirectURI:  "https://app.test/cb",
		LoginHint:    "alice@example.com",
	})
	if err != nil {
		t.Fatalf("CreateAuthorizationURL failed: %v", err)
	}

	q, _ := url.ParseQuery(strings.SplitN(raw, "?", 2)[1])
	if q.Get("code_challenge") != "" {
		t.Fatal("PKCE must be absent when disabled")
	}
	if q.Get("access_type") != "offline" || q.Get("login_hint") != "alice@example.com" {
		t.Fatalf("extra parameters missing: %q", raw)
	}
}

func TestCreateAuthorizationURLRequiresState(t *testing.T) {
	p := newTestProvider(t, nil)
	if _, err := p.CreateAuthorizationURL(AuthorizationRequest{}); err == nil {
		t.Fatal("empty state must be rejected")
	}
}

func TestValidateAuthorizationCode(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","id_token":"idt","token_type":"Bearer","expires_in":3600,"scope":"openid"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.TokenEndpoint = srv.URL
	})

	tokens, err := p.ValidateAuthorizationCode(context.Background(), "authcode", "https://app.test/cb", "verifier-verifier-verifier-verifier-verifier")
	if err != nil {
		t.Fatalf("ValidateAuthorizationCode failed: %v", err)
	}

	if tokens.AccessToken != "at" || tokens.RefreshToken != "rt" || tokens.IDToken != "idt" {
		t.Fatalf("token mapping mismatch: %+v", tokens)
	}
	if tokens.ExpiresAt.Before(time.Now().Add(time.Minute)) {
		t.Fatalf("expiry not derived from expires_in: %v", tokens.ExpiresAt)
	}
	if gotForm.Get("code") != "authcode" || gotForm.Get("grant_type") != "authorization_code" {
		t.Fatalf("unexpected exchange form: %v", gotForm)
	}
	if gotForm.Get("code_verifier") == "" {
		t.Fatal("PKCE verifier must be sent on exchange")
	}
}

func TestValidateAuthorizationCodeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.TokenEndpoint = srv.URL
	})

	_, err := p.ValidateAuthorizationCode(context.Background(), "bad", "https://app.test/cb", "")
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("expected ErrTokenExchange, got %v", err)
	}
}

func TestRefreshAccessToken(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":1800}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.TokenEndpoint = srv.URL
		c.ExtraRefreshParams = map[string]string{"scope": "openid"}
	})

	tokens, err := p.RefreshAccessToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("RefreshAccessToken failed: %v", err)
	}
	if tokens.AccessToken != "at-2" || tokens.RefreshToken != "rt-2" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if gotForm.Get("grant_type") != "refresh_token" || gotForm.Get("refresh_token") != "rt-1" {
		t.Fatalf("unexpected refresh form: %v", gotForm)
	}
	if gotForm.Get("client_secret") != "secret" || gotForm.Get("scope") != "openid" {
		t.Fatalf("credentials or extra params missing: %v", gotForm)
	}
}

func TestRefreshAccessTokenKeepsUnrotatedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.TokenEndpoint = srv.URL
	})

	tokens, err := p.RefreshAccessToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("RefreshAccessToken failed: %v", err)
	}
	if tokens.RefreshToken != "rt-1" {
		t.Fatalf("unrotated refresh token must be kept, got %q", tokens.RefreshToken)
	}
}

func TestRefreshAccessTokenFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.TokenEndpoint = srv.URL
	})

	if _, err := p.RefreshAccessToken(context.Background(), ""); !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("empty refresh token: expected ErrTokenExchange, got %v", err)
	}
	if _, err := p.RefreshAccessToken(context.Background(), "rt-1"); !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("provider rejection: expected ErrTokenExchange, got %v", err)
	}
}

func TestMergeScopes(t *testing.T) {
	got := mergeScopes([]string{"openid", "email"}, []string{"email", "profile", ""})
	want := []string{"openid", "email", "profile"}
	if len(got) != len(want) {
		t.Fatalf("mergeScopes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mergeScopes = %v, want %v", got, want)
		}
	}
}
