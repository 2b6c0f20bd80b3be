package security

// Mode is the purpose carried by an OTP claim. It decides what a successful OTP verification unlocks.
type Mode string

const (
	// ModeNone is carried by ordinary session claims.
	ModeNone Mode = ""
	// ModeLogin marks the email of the subject as verified and opens a session.
	ModeLogin Mode = "login"
	// ModeChangePassword lets the subject proceed to a password change.
	ModeChangePassword Mode = "change-password"
)

// Known reports whether m is one of the modes an OTP claim may carry.
func (m Mode) Known() bool {
	return m == ModeLogin || m == ModeChangePassword
}
