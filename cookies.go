package authcore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	cookieSessionToken = "session_token"
	cookieSessionData  = "session_data"
	cookieDontRemember = "dont_remember"
	cookieTwoFactor    = "two_factor_pending"
)

// cookieJar builds and parses the engine's cookies with consistent
// attributes and HMAC signing.
type cookieJar struct {
	prefix   string
	domain   string
	path     string
	sameSite http.SameSite
	secure   bool
	secret   []byte
}

func newCookieJar(cfg *Config) *cookieJar {
	secure := strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.Cookies.SecureOverride != nil {
		secure = *cfg.Cookies.SecureOverride
	}

	path := cfg.Cookies.Path
	if path == "" {
		path = "/"
	}

	return &cookieJar{
		prefix:   cfg.Cookies.Prefix,
		domain:   cfg.Cookies.Domain,
		path:     path,
		sameSite: cfg.Cookies.SameSite,
		secure:   secure,
		secret:   []byte(cfg.Secret),
	}
}

func (j *cookieJar) name(base string) string {
	if j.prefix == "" {
		return base
	}
	return j.prefix + "." + base
}

// sign returns base64url(HMAC-SHA256(value, secret)).
func (j *cookieJar) sign(value string) string {
	mac := hmac.New(sha256.New, j.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// signedValue produces "<value>.<signature>" for cookie transport.
func (j *cookieJar) signedValue(value string) string {
	return value + "." + j.sign(value)
}

// verifySignedValue splits and checks a "<value>.<signature>" cookie value.
func (j *cookieJar) verifySignedValue(raw string) (string, error) {
	idx := strings.LastIndexByte(raw, '.')
	if idx <= 0 || idx == len(raw)-1 {
		return "", errors.New("malformed signed cookie")
	}
	value, sig := raw[:idx], raw[idx+1:]

	expected := j.sign(value)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", errors.New("cookie signature mismatch")
	}
	return value, nil
}

// SessionCookie builds the signed session-token cookie. maxAge <= 0 omits
// Max-Age/Expires so the cookie dies with the browser session.
func (j *cookieJar) SessionCookie(token string, maxAge time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     j.name(cookieSessionToken),
		Value:    j.signedValue(token),
		Path:     j.path,
		Domain:   j.domain,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
		c.Expires = time.Now().Add(maxAge)
	}
	return c
}

// DontRememberCookie marks the client as having opted out of persistence.
func (j *cookieJar) DontRememberCookie(ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     j.name(cookieDontRemember),
		Value:    j.signedValue("true"),
		Path:     j.path,
		Domain:   j.domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}
}

// ClearCookie expires the named cookie.
func (j *cookieJar) ClearCookie(base string) *http.Cookie {
	return &http.Cookie{
		Name:     j.name(base),
		Value:    "",
		Path:     j.path,
		Domain:   j.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}
}

// ReadSessionToken extracts and verifies the session token from the request.
// Returns "" when absent or tampered; tampering is indistinguishable from
// absence by design.
func (j *cookieJar) ReadSessionToken(r *http.Request) string {
	c, err := r.Cookie(j.name(cookieSessionToken))
	if err != nil || c.Value == "" {
		return ""
	}
	token, err := j.verifySignedValue(c.Value)
	if err != nil {
		return ""
	}
	return token
}

// DontRemember reports whether the client opted out of persistence.
func (j *cookieJar) DontRemember(r *http.Request) bool {
	c, err := r.Cookie(j.name(cookieDontRemember))
	if err != nil {
		return false
	}
	value, err := j.verifySignedValue(c.Value)
	return err == nil && value == "true"
}

/*
====================================
COOKIE CACHE
====================================
*/

// sessionCachePayload is the serialized {session,user} cache cookie body.
type sessionCachePayload struct {
	Session   *Session  `json:"session"`
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CacheCookie serializes the session+user pair into a signed short-TTL
// cookie to skip a storage round trip on reads. Invalidated (cleared) on any
// session mutation.
func (j *cookieJar) CacheCookie(result *SessionResult, ttl time.Duration) (*http.Cookie, error) {
	payload, err := json.Marshal(sessionCachePayload{
		Session:   result.Session,
		User:      result.User,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return nil, err
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return &http.Cookie{
		Name:     j.name(cookieSessionData),
		Value:    j.signedValue(encoded),
		Path:     j.path,
		Domain:   j.domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: j.sameSite,
	}, nil
}

// ReadCacheCookie returns the cached pair when present, untampered, and
// within its own TTL.
func (j *cookieJar) ReadCacheCookie(r *http.Request) *SessionResult {
	c, err := r.Cookie(j.name(cookieSessionData))
	if err != nil || c.Value == "" {
		return nil
	}

	encoded, err := j.verifySignedValue(c.Value)
	if err != nil {
		return nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}

	var payload sessionCachePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	if payload.Session == nil || payload.User == nil {
		return nil
	}
	if time.Now().After(payload.ExpiresAt) || time.Now().After(payload.Session.ExpiresAt) {
		return nil
	}

	return &SessionResult{Session: payload.Session, User: payload.User}
}
