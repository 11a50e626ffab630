package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal"
	"github.com/google/uuid"
)

// sessionManager owns the session lifecycle: creation, verification with
// sliding refresh, and revocation. When secondary storage is configured it is
// the authoritative read path; the adapter remains the system of record.
type sessionManager struct {
	store     *store
	secondary SecondaryStorage
	cfg       *Config
	logger    *slog.Logger
	metrics   *Metrics
}

func sessionKey(token string) string {
	return "session:" + token
}

// storedSession is the secondary-storage serialization of a session and its
// user, written together so verification needs a single read.
type storedSession struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// Create mints a new session for the user. dontRemember swaps the configured
// TTL for the short-lived one and the cookie becomes a browser-session cookie.
func (m *sessionManager) Create(ctx context.Context, user *User, ip, userAgent string, dontRemember bool) (*Session, error) {
	token, err := internal.NewToken(internal.MinTokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	ttl := m.cfg.Session.TTL
	if dontRemember {
		ttl = m.cfg.Advanced.DontRememberTTL
	}

	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
		IPAddress: ip,
		UserAgent: userAgent,
	}

	created, err := m.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, err
	}

	if err := m.writeSecondary(ctx, created, user); err != nil {
		m.logger.Warn("secondary session write failed", "err", err)
	}

	m.metrics.Inc(MetricSessionCreated)
	return created, nil
}

// Verify resolves a raw session token to its session and user. Expired
// sessions are purged and reported as ErrNoSession. A valid session past its
// update age is slid forward unless sliding refresh is disabled or the
// client opted out of persistence.
func (m *sessionManager) Verify(ctx context.Context, token string, dontRemember bool) (*SessionResult, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	result, err := m.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !now.Before(result.Session.ExpiresAt) {
		_ = m.remove(ctx, result.Session)
		return nil, ErrNoSession
	}

	if m.shouldRefresh(result.Session, now, dontRemember) {
		ttl := m.cfg.Session.TTL
		if dontRemember {
			ttl = m.cfg.Advanced.DontRememberTTL
		}
		fresh := now.Add(ttl)
		if err := m.store.UpdateSessionExpiry(ctx, token, fresh); err != nil {
			return nil, err
		}
		result.Session.ExpiresAt = fresh
		result.Session.UpdatedAt = now
		if err := m.writeSecondary(ctx, result.Session, result.User); err != nil {
			m.logger.Warn("secondary session refresh failed", "err", err)
		}
		m.metrics.Inc(MetricSessionRefreshed)
	}

	return result, nil
}

func (m *sessionManager) shouldRefresh(sess *Session, now time.Time, dontRemember bool) bool {
	if m.cfg.Session.DisableSlidingRefresh || dontRemember {
		return false
	}
	return now.Sub(sess.UpdatedAt) >= m.cfg.Session.UpdateAge
}

// lookup reads the session pair, preferring secondary storage and falling
// back to the adapter on a miss (or when the tier is unreachable).
func (m *sessionManager) lookup(ctx context.Context, token string) (*SessionResult, error) {
	if m.secondary != nil {
		data, err := m.secondary.Get(ctx, sessionKey(token))
		if err != nil {
			m.logger.Warn("secondary session read failed", "err", err)
		} else if data != nil {
			var stored storedSession
			if jerr := json.Unmarshal(data, &stored); jerr == nil && stored.Session != nil && stored.User != nil {
				return &SessionResult{Session: stored.Session, User: stored.User}, nil
			}
			// Corrupt payload: drop it and fall through to the adapter.
			_ = m.secondary.Delete(ctx, sessionKey(token))
		}
	}

	sess, err := m.store.FindSessionByToken(ctx, token)
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	user, err := m.store.FindUserByID(ctx, sess.UserID)
	if errors.Is(err, adapter.ErrNotFound) {
		// Orphaned session; treat as signed out.
		_ = m.store.DeleteSessionByToken(ctx, token)
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	result := &SessionResult{Session: sess, User: user}
	if err := m.writeSecondary(ctx, sess, user); err != nil {
		m.logger.Warn("secondary session backfill failed", "err", err)
	}
	return result, nil
}

func (m *sessionManager) writeSecondary(ctx context.Context, sess *Session, user *User) error {
	if m.secondary == nil {
		return nil
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(storedSession{Session: sess, User: user})
	if err != nil {
		return err
	}
	return m.secondary.Set(ctx, sessionKey(sess.Token), data, ttl)
}

// Revoke terminates the session identified by token. Idempotent: revoking an
// unknown or already-revoked token is not an error.
func (m *sessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	sess, err := m.store.FindSessionByToken(ctx, token)
	if errors.Is(err, adapter.ErrNotFound) {
		// Still clear the secondary tier in case the adapter row is gone
		// but the cached copy lingers.
		if m.secondary != nil {
			_ = m.secondary.Delete(ctx, sessionKey(token))
		}
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.remove(ctx, sess); err != nil {
		return err
	}
	m.metrics.Inc(MetricSessionRevoked)
	return nil
}

// RevokeAll terminates every session belonging to userID except, when
// non-empty, the one identified by exceptToken. Returns the number revoked.
func (m *sessionManager) RevokeAll(ctx context.Context, userID, exceptToken string) (int, error) {
	if m.cfg.Session.Retention == RetentionPreserve {
		sessions, err := m.store.ListSessionsByUser(ctx, userID)
		if err != nil {
			return 0, err
		}
		count := 0
		for _, sess := range sessions {
			if sess.Token == exceptToken {
				continue
			}
			if err := m.remove(ctx, sess); err != nil {
				return count, err
			}
			count++
		}
		m.metrics.Inc(MetricSessionRevoked)
		return count, nil
	}

	sessions, err := m.store.DeleteSessionsByUser(ctx, userID, exceptToken)
	if err != nil {
		return 0, err
	}
	if m.secondary != nil {
		for _, sess := range sessions {
			_ = m.secondary.Delete(ctx, sessionKey(sess.Token))
		}
	}
	m.metrics.Inc(MetricSessionRevoked)
	return len(sessions), nil
}

// remove retires one session honoring the configured retention mode:
// RetentionDelete drops the row, RetentionPreserve keeps it with its expiry
// forced into the past. The secondary copy is always deleted.
func (m *sessionManager) remove(ctx context.Context, sess *Session) error {
	if m.secondary != nil {
		if err := m.secondary.Delete(ctx, sessionKey(sess.Token)); err != nil {
			m.logger.Warn("secondary session delete failed", "err", err)
		}
	}

	if m.cfg.Session.Retention == RetentionPreserve {
		return m.store.UpdateSessionExpiry(ctx, sess.Token, time.Now().Add(-time.Second))
	}
	return m.store.DeleteSessionByToken(ctx, sess.Token)
}

// ActiveSessions lists the caller's unexpired sessions, oldest first.
func (m *sessionManager) ActiveSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := m.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := sessions[:0]
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			out = append(out, sess)
		}
	}
	return out, nil
}
