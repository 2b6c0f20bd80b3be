package security

import "time"

// Secrets for unit tests only. Do not use in production.
const (
	testDefaultSecret = "test-default-secret-0123456789abcdef"
	testOTPSecret     = "test-otp-secret-fedcba9876543210"
)

// NewTestClaimCodec returns a ClaimCodec using disposable test secrets and the given clock.
// For unit tests only. Callers must not use in production.
func NewTestClaimCodec(now func() time.Time) *ClaimCodec {
	c, err := NewClaimCodec(testDefaultSecret, testOTPSecret, DefaultAccessTTL)
	if err != nil {
		panic(err)
	}
	if now != nil {
		c = c.WithClock(now)
	}
	return c
}
