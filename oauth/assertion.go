package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ReplayGuard provides atomic first-use-wins insertion. CheckAndSet returns
// false when the key was already recorded; the insert and the check are one
// atomic operation at the storage layer.
type ReplayGuard interface {
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ClientKeys names where a registered client's public keys live: a JWKS URL
// or an inline JWKS document. Exactly one must be set.
type ClientKeys struct {
	ClientID string
	JWKSURL  string
	JWKS     json.RawMessage
}

// AssertionVerifier verifies private-key-JWT client assertions
// (urn:ietf:params:oauth:client-assertion-type:jwt-bearer) for the token
// endpoint. Replays of a (clientId, jti) pair are rejected regardless of
// signature validity: first use wins.
type AssertionVerifier struct {
	tokenEndpoint string
	guard         ReplayGuard

	mu      sync.Mutex
	clients map[string]ClientKeys
	keys    map[string]keyfunc.Keyfunc
}

// NewAssertionVerifier builds a verifier for the given token endpoint (the
// required audience) and registered clients.
func NewAssertionVerifier(tokenEndpoint string, guard ReplayGuard, clients ...ClientKeys) (*AssertionVerifier, error) {
	if tokenEndpoint == "" {
		return nil, fmt.Errorf("oauth: token endpoint is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("oauth: replay guard is required")
	}

	registered := make(map[string]ClientKeys, len(clients))
	for _, c := range clients {
		if c.ClientID == "" {
			return nil, fmt.Errorf("oauth: client with empty id")
		}
		if (c.JWKSURL == "") == (len(c.JWKS) == 0) {
			return nil, fmt.Errorf("oauth: client %q must set exactly one of JWKSURL or JWKS", c.ClientID)
		}
		if _, dup := registered[c.ClientID]; dup {
			return nil, fmt.Errorf("oauth: duplicate client %q", c.ClientID)
		}
		registered[c.ClientID] = c
	}

	return &AssertionVerifier{
		tokenEndpoint: tokenEndpoint,
		guard:         guard,
		clients:       registered,
		keys:          make(map[string]keyfunc.Keyfunc, len(registered)),
	}, nil
}

// keyfuncFor resolves (and caches) the key set for a registered client.
func (v *AssertionVerifier) keyfuncFor(ctx context.Context, clientID string) (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if kf, ok := v.keys[clientID]; ok {
		return kf, nil
	}

	client, ok := v.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidClient)
	}

	var (
		kf  keyfunc.Keyfunc
		err error
	)
	if client.JWKSURL != "" {
		kf, err = keyfunc.NewDefaultCtx(ctx, []string{client.JWKSURL})
	} else {
		kf, err = keyfunc.NewJWKSetJSON(client.JWKS)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: jwks unavailable", ErrInvalidClient)
	}

	v.keys[clientID] = kf
	return kf, nil
}

// Verify checks the assertion for clientID: signature against the client's
// JWKS, iss and sub equal to clientID, aud containing the token endpoint, a
// required numeric exp, and an unseen jti. The jti is recorded atomically
// with TTL equal to the assertion's remaining lifetime before acceptance.
func (v *AssertionVerifier) Verify(ctx context.Context, clientID, assertion string) error {
	if clientID == "" || assertion == "" {
		return fmt.Errorf("%w: missing assertion", ErrInvalidClient)
	}

	kf, err := v.keyfuncFor(ctx, clientID)
	if err != nil {
		return err
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, kf.Keyfunc,
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(clientID),
		jwt.WithSubject(clientID),
		jwt.WithAudience(v.tokenEndpoint),
	)
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: assertion rejected", ErrInvalidClient)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: exp claim required", ErrInvalidClient)
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return fmt.Errorf("%w: jti claim required", ErrInvalidClient)
	}

	fresh, err := v.guard.CheckAndSet(ctx, "jti:"+clientID+":"+jti, time.Until(exp.Time))
	if err != nil {
		return fmt.Errorf("%w: replay guard unavailable", ErrInvalidClient)
	}
	if !fresh {
		return fmt.Errorf("%w: assertion replayed", ErrInvalidClient)
	}
	return nil
}
