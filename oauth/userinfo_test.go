package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNormalizeClaims(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]any
		want   UserInfo
	}{
		{
			name: "oidc standard",
			claims: map[string]any{
				"sub": "u-1", "name": "Alice", "email": "Alice@Example.com",
				"picture": "https://img.test/a.png", "email_verified": true,
			},
			want: UserInfo{ID: "u-1", Name: "Alice", Email: "alice@example.com", Image: "https://img.test/a.png", EmailVerified: true},
		},
		{
			name: "github shape",
			claims: map[string]any{
				"id": float64(12345), "login": "octo", "email": "octo@example.com",
				"avatar_url": "https://img.test/octo.png",
			},
			want: UserInfo{ID: "12345", Name: "octo", Email: "octo@example.com", Image: "https://img.test/octo.png"},
		},
		{
			name: "email_verified as string",
			claims: map[string]any{
				"sub": "u-2", "email": "b@test.io", "email_verified": "true",
			},
			want: UserInfo{ID: "u-2", Email: "b@test.io", EmailVerified: true},
		},
		{
			name: "email_verified false string",
			claims: map[string]any{
				"sub": "u-3", "email_verified": "false",
			},
			want: UserInfo{ID: "u-3"},
		},
		{
			name: "name from given and family",
			claims: map[string]any{
				"sub": "u-4", "given_name": "Ada", "family_name": "Lovelace",
			},
			want: UserInfo{ID: "u-4", Name: "Ada Lovelace"},
		},
		{
			name:   "empty claims",
			claims: map[string]any{},
			want:   UserInfo{},
		},
	}

	for _, tc := range cases {
		got := normalizeClaims(tc.claims)
		if *got != tc.want {
			t.Fatalf("%s: normalizeClaims = %+v, want %+v", tc.name, *got, tc.want)
		}
	}
}

func TestGetUserInfoDecodesIDToken(t *testing.T) {
	p := newTestProvider(t, nil)

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "u-9",
		"email":          "Carol@Example.com",
		"name":           "Carol",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}

	info, err := p.GetUserInfo(context.Background(), &Tokens{IDToken: idToken})
	if err != nil {
		t.Fatalf("GetUserInfo failed: %v", err)
	}
	if info.ID != "u-9" || info.Email != "carol@example.com" || !info.EmailVerified {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestGetUserInfoFetchesEndpoint(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"u-5","email":"dave@example.com","name":"Dave"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.UserInfoEndpoint = srv.URL
	})

	info, err := p.GetUserInfo(context.Background(), &Tokens{AccessToken: "at"})
	if err != nil {
		t.Fatalf("GetUserInfo failed: %v", err)
	}
	if info.ID != "u-5" || info.Name != "Dave" {
		t.Fatalf("unexpected info %+v", info)
	}
	if gotAuth != "Bearer at" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
}

func TestGetUserInfoPrefersEndpointWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"from-endpoint"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.UserInfoEndpoint = srv.URL
		c.PreferUserInfoEndpoint = true
	})

	idToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "from-id-token",
	}).SignedString([]byte("irrelevant"))

	info, err := p.GetUserInfo(context.Background(), &Tokens{IDToken: idToken, AccessToken: "at"})
	if err != nil {
		t.Fatalf("GetUserInfo failed: %v", err)
	}
	if info.ID != "from-endpoint" {
		t.Fatalf("expected the endpoint identity, got %q", info.ID)
	}
}

func TestGetUserInfoFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	p := newTestProvider(t, func(c *ProviderConfig) {
		c.UserInfoEndpoint = srv.URL
	})

	if _, err := p.GetUserInfo(context.Background(), nil); !errors.Is(err, ErrUserInfo) {
		t.Fatalf("nil tokens: expected ErrUserInfo, got %v", err)
	}
	if _, err := p.GetUserInfo(context.Background(), &Tokens{}); !errors.Is(err, ErrUserInfo) {
		t.Fatalf("no access token: expected ErrUserInfo, got %v", err)
	}
	if _, err := p.GetUserInfo(context.Background(), &Tokens{AccessToken: "at"}); !errors.Is(err, ErrUserInfo) {
		t.Fatalf("provider rejection: expected ErrUserInfo, got %v", err)
	}
}
