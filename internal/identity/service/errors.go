package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-charity/auth-server/internal/security"
)

// Sentinel errors for the identity services; the HTTP handler maps them to status codes.
var (
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired matches ErrRefreshTokenInvalid under errors.Is; callers see one kind.
	ErrRefreshTokenExpired = fmt.Errorf("refresh token expired: %w", ErrRefreshTokenInvalid)
	ErrInvalidOTP          = errors.New("invalid otp")
	// ErrUnprocessableMode means an OTP claim carried a mode no handler exists for. It is a
	// configuration error, not a user error.
	ErrUnprocessableMode  = errors.New("unprocessable otp mode")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("account already exists")
	ErrPersistence        = errors.New("persistence failure")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnverifiedEmail    = errors.New("unverified email address")
	// ErrSubjectMismatch is returned when an OTP claim is used for an email that belongs to another account.
	ErrSubjectMismatch = errors.New("claim subject does not own this email")
	ErrProfileSync     = errors.New("profile sync failed")
	ErrMailDispatch    = errors.New("otp email dispatch failed")
)

// Violation is one failed field check.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every violation found in a request, not just the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" ("+v.Rule+")")
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsClientError reports whether err is an expected rejection rather than a server fault.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidOTP, ErrInvalidInput, ErrConflict, ErrInvalidCredentials, ErrUnverifiedEmail,
		ErrSubjectMismatch, ErrRefreshTokenInvalid, security.ErrTokenInvalid, security.ErrTokenExpired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
