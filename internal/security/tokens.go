package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedClaim is returned by Sign when the claim lacks a subject or role.
	ErrMalformedClaim = errors.New("malformed claim: subject and role are required")
	// ErrTokenExpired is returned when a token is well-formed and correctly signed but past its expiry.
	// It is the only verification failure that allows the refresh rotation path.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned when a token is malformed, has a bad signature, or was signed for another scope.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrInvalidSecrets is returned by NewClaimCodec when the secrets are missing or identical.
	ErrInvalidSecrets = errors.New("default and otp secrets must be set and distinct")
)

// DefaultAccessTTL is the lifetime of an access claim when the caller does not choose one.
const DefaultAccessTTL = 5 * time.Minute

// Scope selects the signing secret. Claims signed in one scope never verify in the other.
type Scope string

const (
	// ScopeDefault signs ordinary session claims.
	ScopeDefault Scope = "default"
	// ScopeOTP signs OTP claims used for email verification and step-up flows.
	ScopeOTP Scope = "otp"
)

// ParseScope maps a request value onto a Scope. Empty means ScopeDefault.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeDefault:
		return ScopeDefault, nil
	case ScopeOTP:
		return ScopeOTP, nil
	default:
		return "", ErrTokenInvalid
	}
}

// Claim is the decoded content of an access token.
type Claim struct {
	SubjectID string
	Role      string
	// Mode is set only on OTP claims.
	Mode Mode
}

// SignedToken is a freshly signed access token and its expiry.
type SignedToken struct {
	Token     string
	ExpiresAt time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Mode string `json:"mode,omitempty"`
}

// ClaimCodec signs and verifies HS256 access claims. It holds one secret per Scope.
type ClaimCodec struct {
	secrets   map[Scope][]byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewClaimCodec returns a ClaimCodec for the given secrets. accessTTL is used when Sign is
// called with ttl <= 0; zero means DefaultAccessTTL.
func NewClaimCodec(defaultSecret, otpSecret string, accessTTL time.Duration) (*ClaimCodec, error) {
	if defaultSecret == "" || otpSecret == "" || defaultSecret == otpSecret {
		return nil, ErrInvalidSecrets
	}
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &ClaimCodec{
		secrets: map[Scope][]byte{
			ScopeDefault: []byte(defaultSecret),
			ScopeOTP:     []byte(otpSecret),
		},
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// WithClock returns a copy of the codec that reads wall-clock time from now.
func (c *ClaimCodec) WithClock(now func() time.Time) *ClaimCodec {
	cp := *c
	cp.now = now
	return &cp
}

// Sign issues a token for claim in the given scope. ttl <= 0 uses the codec's access TTL.
func (c *ClaimCodec) Sign(claim Claim, scope Scope, ttl time.Duration) (SignedToken, error) {
	if claim.SubjectID == "" || claim.Role == "" {
		return SignedToken{}, ErrMalformedClaim
	}
	secret, ok := c.secrets[scope]
	if !ok {
		return SignedToken{}, ErrTokenInvalid
	}
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claim.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: claim.Role,
		Mode: string(claim.Mode),
	})
	signed, err := t.SignedString(secret)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks signature, structure and expiry of tokenString against the scope's secret.
// It returns ErrTokenExpired only for an otherwise valid token; every other failure is ErrTokenInvalid.
func (c *ClaimCodec) Verify(tokenString string, scope Scope) (*Claim, error) {
	claims, err := c.parse(tokenString, scope,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, err
	}
	return claims.toClaim()
}

// DecodeExpired returns the claim of a token whose signature verifies against the scope's
// secret, ignoring expiry. Used to recover the subject of an expired access token before rotation.
func (c *ClaimCodec) DecodeExpired(tokenString string, scope Scope) (*Claim, error) {
	claims, err := c.parse(tokenString, scope, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	return claims.toClaim()
}

func (c *ClaimCodec) parse(tokenString string, scope Scope, opts ...jwt.ParserOption) (*accessClaims, error) {
	secret, ok := c.secrets[scope]
	if !ok || tokenString == "" {
		return nil, ErrTokenInvalid
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (a *accessClaims) toClaim() (*Claim, error) {
	if a.Subject == "" || a.Role == "" {
		return nil, ErrTokenInvalid
	}
	return &Claim{SubjectID: a.Subject, Role: a.Role, Mode: Mode(a.Mode)}, nil
}
