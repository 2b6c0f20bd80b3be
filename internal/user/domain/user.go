package domain

import (
	"errors"
	"time"
)

// ErrDuplicateEmail is returned by repositories when the email is already taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Role is the beneficiary side a user account belongs to.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// RequiresGovernmentID reports whether accounts of this role must carry a government id.
func (r Role) RequiresGovernmentID() bool {
	return r == RolePrimary
}

// User is the persistent identity every credential refers to by ID.
type User struct {
	ID            string
	Role          Role
	GovernmentID  string // only stored for RolePrimary
	Email         string
	PasswordHash  string
	EmailVerified bool // flipped by the first successful login-mode OTP verification
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !u.Role.Valid() {
		return errors.New("role must be primary or secondary")
	}
	if u.Role.RequiresGovernmentID() && u.GovernmentID == "" {
		return errors.New("government id is required for primary accounts")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
