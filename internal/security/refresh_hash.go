package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewRefreshID returns an opaque, unguessable refresh record id (random UUIDv4 without dashes).
func NewRefreshID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HashRefreshID returns the hex-encoded SHA-256 of a refresh id. Stores key records by this
// value so a leaked table does not yield redeemable ids.
func HashRefreshID(id string) string {
	h := sha256.Sum256([]byte(id))
	return hex.EncodeToString(h[:])
}

// RefreshIDHashEqual performs a constant-time comparison of the hash of providedID with storedHash.
func RefreshIDHashEqual(providedID, storedHash string) bool {
	providedHash := HashRefreshID(providedID)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
