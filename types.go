package authcore

import (
	"time"
)

// User is the canonical account holder record, stored in the "user" model.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name,omitempty"`
	Image            string    `json:"image,omitempty"`
	EmailVerified    bool      `json:"emailVerified"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Session is an opaque-token session row, stored in the "session" model.
// Token is the high-entropy credential; the cookie carries it HMAC-signed.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// Account links one credential or federated identity to a user, stored in the
// "account" model. Password is populated only for the "credential" provider;
// token fields only for OAuth providers.
type Account struct {
	ID                   string    `json:"id"`
	ProviderID           string    `json:"providerId"`
	AccountID            string    `json:"accountId"`
	UserID               string    `json:"userId"`
	AccessToken          string    `json:"-"`
	RefreshToken         string    `json:"-"`
	IDToken              string    `json:"-"`
	AccessTokenExpiresAt time.Time `json:"-"`
	Scope                string    `json:"scope,omitempty"`
	Password             string    `json:"-"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// VerificationValue is a generic expiring single-use record, stored in the
// "verification" model. Identifier namespaces distinguish use: raw OAuth state
// ids, "2fa-otp-<userID>", "jti:<clientID>:<jti>", email verification tokens.
type VerificationValue struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Value      string    `json:"value"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Expired reports whether the record's deadline has passed.
func (v *VerificationValue) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// SessionResult pairs a verified session with its user. It is the shape
// carried on the request context and returned by session endpoints.
type SessionResult struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// SignInResult is the canonical body for sign-in and sign-up responses.
type SignInResult struct {
	User     *User    `json:"user"`
	Session  *Session `json:"session"`
	Redirect bool     `json:"redirect"`
	URL      string   `json:"url,omitempty"`
}

// SocialSignInResult is returned by /sign-in/social: either an authorization
// redirect (Redirect true, URL set) or a completed ID-token flow
// (Redirect false, Token and User set).
type SocialSignInResult struct {
	Redirect bool   `json:"redirect"`
	URL      string `json:"url,omitempty"`
	Token    string `json:"token,omitempty"`
	User     *User  `json:"user,omitempty"`
}

// OAuthStateRecord is the value bound to an OAuth state string for the
// lifetime of one authorization round trip. Stored as a VerificationValue
// keyed by the state, consumed exactly once by the callback handler.
type OAuthStateRecord struct {
	CodeVerifier       string            `json:"codeVerifier,omitempty"`
	CallbackURL        string            `json:"callbackURL,omitempty"`
	ErrorCallbackURL   string            `json:"errorCallbackURL,omitempty"`
	NewUserCallbackURL string            `json:"newUserCallbackURL,omitempty"`
	ProviderID         string            `json:"providerId"`
	RequestSignUp      bool              `json:"requestSignUp,omitempty"`
	AdditionalData     map[string]string `json:"additionalData,omitempty"`
}

// PasswordHasher abstracts credential hashing so applications can substitute
// the default argon2id implementation.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) (bool, error)
}

// SessionRetention decides what happens to the primary-store session row when
// secondary storage is configured and a session is revoked there.
type SessionRetention int

const (
	// RetentionDelete removes the primary row alongside the secondary entry.
	RetentionDelete SessionRetention = iota
	// RetentionPreserve keeps the primary row (for audit queries) even though
	// the secondary deletion has already made the session unusable.
	RetentionPreserve
)
