package security

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the longest secret bcrypt will hash.
const MaxSecretBytes = 72

// ErrBadEncoding is returned by DecodeSecret when the value is not standard base64.
var ErrBadEncoding = errors.New("value is not base64 encoded")

// Hasher hashes and verifies passwords and OTP codes using bcrypt. Callers must not log or
// persist the plaintext.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's bounds.
// Zero or negative selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns nil if secret matches hash, bcrypt.ErrMismatchedHashAndPassword or a
// decoding error otherwise.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}

// DecodeSecret decodes a caller-encoded (standard base64) password or API key.
func DecodeSecret(encoded string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadEncoding
	}
	return b, nil
}
