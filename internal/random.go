package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MinTokenLength is the floor for opaque credential tokens. Session tokens,
// verification tokens, and OAuth state values never go below it.
const MinTokenLength = 32

// NewToken returns n random characters from the alphanumeric alphabet,
// sourced from crypto/rand. n is clamped up to [MinTokenLength].
func NewToken(n int) (string, error) {
	if n < MinTokenLength {
		n = MinTokenLength
	}

	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[idx.Int64()])
	}

	return b.String(), nil
}

// NewOTP returns a random numeric one-time code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NewCodeVerifier returns a PKCE code verifier: 32 random bytes in
// unpadded base64url, per RFC 7636.
func NewCodeVerifier() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashSecret is the canonical digest for stored one-time secrets (OTP codes,
// verification tokens). The plaintext is never persisted.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}
