package security

import "crypto/subtle"

// APIKeyMatches reports whether encoded (base64 of the pre-shared key, as sent by callers)
// decodes to expected. Comparison is constant-time.
func APIKeyMatches(encoded, expected string) bool {
	if encoded == "" || expected == "" {
		return false
	}
	decoded, err := DecodeSecret(encoded)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(decoded, []byte(expected)) == 1
}
