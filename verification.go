package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/authcore-dev/authcore/adapter"
	"github.com/authcore-dev/authcore/internal"
	"github.com/google/uuid"
)

// Verification identifier namespaces. The namespace is part of the identifier
// so a token issued for one purpose can never be consumed for another.
const (
	identEmailVerify   = "email-verify"
	identPasswordReset = "password-reset"
	identOAuthState    = "oauth-state"
	identTwoFactorOTP  = "2fa-otp"
	identJTIGuard      = "jti"
)

func verificationIdentifier(namespace, key string) string {
	return namespace + "-" + key
}

var (
	errVerificationExpired  = errors.New("verification value expired")
	errVerificationMismatch = errors.New("verification value mismatch")
	errTooManyAttempts      = errors.New("too many attempts")
)

/*
====================================
ROW MAPPING
====================================
*/

func verificationFromRow(row adapter.Row) *VerificationValue {
	return &VerificationValue{
		ID:         str(row["id"]),
		Identifier: str(row["identifier"]),
		Value:      str(row["value"]),
		ExpiresAt:  when(row["expiresAt"]),
		CreatedAt:  when(row["createdAt"]),
	}
}

/*
====================================
LIFECYCLE
====================================
*/

// CreateVerification stores a single-use value under an identifier, replacing
// any value previously stored under the same identifier.
func (s *store) CreateVerification(ctx context.Context, identifier, value string, ttl time.Duration) (*VerificationValue, error) {
	// Re-issuing invalidates the prior value: last issued wins.
	if err := s.db.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
		return nil, s.wrapStorageErr("replace verification", err)
	}

	now := time.Now()
	row, err := s.db.Create(ctx, modelVerification, adapter.Row{
		"id":         uuid.NewString(),
		"identifier": identifier,
		"value":      value,
		"expiresAt":  now.Add(ttl),
		"createdAt":  now,
	})
	if err != nil {
		return nil, s.wrapStorageErr("create verification", err)
	}
	return verificationFromRow(row), nil
}

// FindVerification returns the live value for an identifier. Expired values
// are deleted on read and reported as not found.
func (s *store) FindVerification(ctx context.Context, identifier string) (*VerificationValue, error) {
	row, err := s.db.FindOne(ctx, modelVerification, whereEq("identifier", identifier))
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("find verification", err)
	}

	v := verificationFromRow(row)
	if v.Expired(time.Now()) {
		_ = s.db.Delete(ctx, modelVerification, whereEq("identifier", identifier))
		return nil, adapter.ErrNotFound
	}
	return v, nil
}

func (s *store) DeleteVerification(ctx context.Context, identifier string) error {
	if err := s.db.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
		return s.wrapStorageErr("delete verification", err)
	}
	return nil
}

// ConsumeVerification deletes the stored value before the caller inspects it,
// so a value can be redeemed at most once regardless of outcome. The delete
// count is the atomic claim: under concurrent redemptions of the same
// identifier only the caller whose delete removed the row wins, everyone
// else sees not-found.
func (s *store) ConsumeVerification(ctx context.Context, identifier string) (*VerificationValue, error) {
	row, err := s.db.FindOne(ctx, modelVerification, whereEq("identifier", identifier))
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, s.wrapStorageErr("consume verification", err)
	}

	n, err := s.db.DeleteMany(ctx, modelVerification, whereEq("identifier", identifier))
	if err != nil {
		return nil, s.wrapStorageErr("consume verification", err)
	}
	if n == 0 {
		// Lost the race: another caller consumed the value between our read
		// and our delete.
		return nil, adapter.ErrNotFound
	}

	v := verificationFromRow(row)
	if v.Expired(time.Now()) {
		return nil, errVerificationExpired
	}
	return v, nil
}

/*
====================================
OTP WITH ATTEMPT COUNTER
====================================
*/

// otpValue encodes an OTP for storage as "<sha256hex>:<attempts>". Only the
// hash is persisted; the attempt counter rides along in the same value.
func otpValue(code string, attempts int) string {
	sum := internal.HashSecret(code)
	return hex.EncodeToString(sum[:]) + ":" + strconv.Itoa(attempts)
}

func parseOTPValue(value string) (hash string, attempts int, ok bool) {
	idx := strings.LastIndexByte(value, ':')
	if idx <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return value[:idx], n, true
}

// CreateOTP stores a hashed one-time code with a zeroed attempt counter.
func (s *store) CreateOTP(ctx context.Context, identifier, code string, ttl time.Duration) error {
	_, err := s.CreateVerification(ctx, identifier, otpValue(code, 0), ttl)
	return err
}

// VerifyOTP checks a submitted code against the stored hash. A correct code
// deletes the value; a wrong code increments the attempt counter and, once
// maxAttempts is reached, deletes the value so further guesses start over.
//
// The read-compare-bump sequence runs inside an adapter transaction so
// concurrent guesses serialize against the attempt counter instead of
// overwriting each other's increments. Domain outcomes (mismatch, attempt
// cap) are carried out of the callback rather than returned from it: a
// returned error would roll back the very counter bump or burn they record.
func (s *store) VerifyOTP(ctx context.Context, identifier, code string, maxAttempts int) error {
	var outcome error
	err := s.db.Transaction(ctx, func(tx adapter.Adapter) error {
		row, err := tx.FindOne(ctx, modelVerification, whereEq("identifier", identifier))
		if errors.Is(err, adapter.ErrNotFound) {
			outcome = errVerificationExpired
			return nil
		}
		if err != nil {
			return err
		}

		v := verificationFromRow(row)
		if v.Expired(time.Now()) {
			if err := tx.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
				return err
			}
			outcome = errVerificationExpired
			return nil
		}

		hash, attempts, ok := parseOTPValue(v.Value)
		if !ok {
			if err := tx.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
				return err
			}
			outcome = errVerificationMismatch
			return nil
		}
		if attempts >= maxAttempts {
			if err := tx.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
				return err
			}
			outcome = errTooManyAttempts
			return nil
		}

		sum := internal.HashSecret(code)
		if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(hash)) == 1 {
			return tx.Delete(ctx, modelVerification, whereEq("identifier", identifier))
		}

		attempts++
		if attempts >= maxAttempts {
			if err := tx.Delete(ctx, modelVerification, whereEq("identifier", identifier)); err != nil {
				return err
			}
			outcome = errTooManyAttempts
			return nil
		}
		if _, err := tx.Update(ctx, modelVerification, whereEq("identifier", identifier), adapter.Row{
			"value": hash + ":" + strconv.Itoa(attempts),
		}); err != nil && !errors.Is(err, adapter.ErrNotFound) {
			return err
		}
		outcome = errVerificationMismatch
		return nil
	})
	if err != nil {
		return s.wrapStorageErr("verify otp", err)
	}
	return outcome
}

/*
====================================
REPLAY GUARD
====================================
*/

// replayGuard provides atomic first-use-wins insertion for replay detection
// (client-assertion jti tracking). Secondary storage backs it when
// configured; otherwise the verification model's unique identifier index
// provides the same guarantee through the adapter.
type replayGuard struct {
	store     *store
	secondary SecondaryStorage
}

// CheckAndSet records key and reports whether this was its first use.
func (g *replayGuard) CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	if g.secondary != nil {
		return g.secondary.SetIfNotExists(ctx, key, []byte("1"), ttl)
	}

	identifier := verificationIdentifier(identJTIGuard, key)
	if _, err := g.store.FindVerification(ctx, identifier); err == nil {
		return false, nil
	}

	now := time.Now()
	_, err := g.store.db.Create(ctx, modelVerification, adapter.Row{
		"id":         uuid.NewString(),
		"identifier": identifier,
		"value":      "1",
		"expiresAt":  now.Add(ttl),
		"createdAt":  now,
	})
	if errors.Is(err, adapter.ErrUniqueViolation) {
		return false, nil
	}
	if err != nil {
		return false, g.store.wrapStorageErr("replay guard insert", err)
	}
	return true, nil
}

/*
====================================
TOKEN ISSUANCE HELPERS
====================================
*/

// issueToken creates an opaque single-use token carrying payload (typically
// a user id or email), stored under the token so redemption needs nothing
// but the token itself.
func (s *store) issueToken(ctx context.Context, namespace, payload string, ttl time.Duration) (string, error) {
	token, err := internal.NewToken(internal.MinTokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if _, err := s.CreateVerification(ctx, verificationIdentifier(namespace, token), payload, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// consumeToken redeems a token issued by issueToken, returning its payload.
// Redemption is single-use: the stored value is gone after this call.
func (s *store) consumeToken(ctx context.Context, namespace, token string) (string, error) {
	v, err := s.ConsumeVerification(ctx, verificationIdentifier(namespace, token))
	if err != nil {
		return "", err
	}
	return v.Value, nil
}
