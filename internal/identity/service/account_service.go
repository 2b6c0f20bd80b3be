package service

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	profiledomain "github.com/go-charity/auth-server/internal/profile/domain"
	"github.com/go-charity/auth-server/internal/security"
	userdomain "github.com/go-charity/auth-server/internal/user/domain"
)

// AccountDetails is a registration request. Password is base64 encoded by the caller.
type AccountDetails struct {
	Role         string          `json:"role" validate:"required,oneof=primary secondary"`
	GovernmentID string          `json:"government_id" validate:"required_if=Role primary"`
	Email        string          `json:"email" validate:"required,email"`
	Password     string          `json:"password" validate:"required,base64"`
	Metadata     ProfileMetadata `json:"metadata"`
}

// ProfileMetadata is the human-facing part of a registration, staged until the account is verified.
type ProfileMetadata struct {
	FullName string `json:"fullname" validate:"required"`
	Phone    string `json:"phone" validate:"required,e164|numeric"`
	Tagline  string `json:"tagline" validate:"max=280"`
}

// AccountResult is a freshly provisioned, unverified user and the OTP pair that drives its verification.
type AccountResult struct {
	User *userdomain.User
	OTP  *TokenPair
}

// LoginResult is the outcome of a password login. Verified users get a session pair; unverified
// users get an OTP pair (mode login) and Verified=false.
type LoginResult struct {
	UserID   string
	Verified bool
	Pair     *TokenPair
}

// AccountOptions configures an AccountService.
type AccountOptions struct {
	Clock Clock
}

// AccountService provisions accounts and authenticates passwords.
type AccountService struct {
	tokens   *TokenService
	users    UserRepo
	profiles ProfileRepo
	hasher   *security.Hasher
	validate *validator.Validate
	now      Clock
	obs      *Observer

	dummyHash string
}

// NewAccountService returns an AccountService.
func NewAccountService(tokens *TokenService, users UserRepo, profiles ProfileRepo, hasher *security.Hasher, obs *Observer, opts AccountOptions) (*AccountService, error) {
	if opts.Clock == nil {
		opts.Clock = defaultClock
	}
	dummy, err := hasher.Hash([]byte("dummy-password"))
	if err != nil {
		return nil, err
	}
	return &AccountService{
		tokens:    tokens,
		users:     users,
		profiles:  profiles,
		hasher:    hasher,
		validate:  newValidator(),
		now:       opts.Clock,
		obs:       orNoop(obs),
		dummyHash: dummy,
	}, nil
}

// newValidator reports violations by their JSON field names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateAccount validates d, creates the user and its staged profile, and returns an OTP pair with
// mode login. If the profile or the OTP pair cannot be stored the user is deleted again.
func (s *AccountService) CreateAccount(ctx context.Context, d AccountDetails) (res *AccountResult, err error) {
	ctx, span := s.obs.start(ctx, "AccountService.CreateAccount", attribute.String("role", d.Role))
	var userID string
	defer func() {
		finish(span, err)
		s.obs.count(ctx, s.obs.accounts, err, attribute.String("role", d.Role))
		s.obs.emit(ctx, EventAccountCreated, userID, err, map[string]string{"role": d.Role})
	}()

	if err := s.check(d); err != nil {
		return nil, err
	}
	password, err := security.DecodeSecret(d.Password)
	if err != nil || len(password) == 0 {
		return nil, &ValidationError{Violations: []Violation{{Field: "password", Rule: "base64"}}}
	}
	if len(password) > security.MaxSecretBytes {
		return nil, &ValidationError{Violations: []Violation{{Field: "password", Rule: "max"}}}
	}
	email := normalizeEmail(d.Email)

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, persistence("load user", err)
	}
	if existing != nil {
		return nil, ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	role := userdomain.Role(d.Role)
	user := &userdomain.User{
		ID:           uuid.NewString(),
		Role:         role,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if role.RequiresGovernmentID() {
		user.GovernmentID = strings.TrimSpace(d.GovernmentID)
	}
	if err := user.Validate(); err != nil {
		return nil, &ValidationError{Violations: []Violation{{Field: "user", Rule: err.Error()}}}
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userdomain.ErrDuplicateEmail) {
			return nil, ErrConflict
		}
		return nil, persistence("create user", err)
	}
	userID = user.ID

	profile := &profiledomain.StagedProfile{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		FullName:  strings.TrimSpace(d.Metadata.FullName),
		Phone:     strings.TrimSpace(d.Metadata.Phone),
		Tagline:   strings.TrimSpace(d.Metadata.Tagline),
		CreatedAt: now,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, s.rollback(ctx, user.ID, persistence("create staged profile", err))
	}

	pair, err := s.tokens.IssueOTPPair(ctx, user.ID, string(user.Role), security.ModeLogin)
	if err != nil {
		return nil, s.rollback(ctx, user.ID, err)
	}
	s.obs.log.Info(ctx, "account created", "user_id", user.ID, "role", string(user.Role))
	return &AccountResult{User: user, OTP: pair}, nil
}

// rollback deletes a half-provisioned user (its staged profile cascades) and returns cause,
// joined with the delete error if that fails too.
func (s *AccountService) rollback(ctx context.Context, userID string, cause error) error {
	if derr := s.users.Delete(ctx, userID); derr != nil {
		s.obs.log.Error(ctx, "rollback of half-created user failed", "user_id", userID, "error", derr)
		return errors.Join(cause, derr)
	}
	return cause
}

// check runs struct validation and collects every violation.
func (s *AccountService) check(d AccountDetails) error {
	err := s.validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Violations: make([]Violation, 0, len(verrs))}
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out.Violations = append(out.Violations, Violation{Field: field, Rule: fe.Tag()})
	}
	return out
}

// Login checks an email and base64-encoded password. Unknown emails and wrong passwords are
// indistinguishable (ErrInvalidCredentials).
func (s *AccountService) Login(ctx context.Context, email, encodedPassword string) (res *LoginResult, err error) {
	ctx, span := s.obs.start(ctx, "AccountService.Login")
	var userID string
	defer func() {
		finish(span, err)
		s.obs.count(ctx, s.obs.logins, err)
		s.obs.emit(ctx, EventLogin, userID, err, nil)
	}()

	password, derr := security.DecodeSecret(encodedPassword)
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, persistence("load user", err)
	}
	hash := s.dummyHash
	if user != nil {
		hash = user.PasswordHash
	}
	if cerr := s.hasher.Compare(hash, password); cerr != nil || derr != nil || user == nil {
		return nil, ErrInvalidCredentials
	}
	userID = user.ID

	if !user.EmailVerified {
		pair, err := s.tokens.IssueOTPPair(ctx, user.ID, string(user.Role), security.ModeLogin)
		if err != nil {
			return nil, err
		}
		return &LoginResult{UserID: user.ID, Verified: false, Pair: pair}, nil
	}
	pair, err := s.tokens.IssuePair(ctx, user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &LoginResult{UserID: user.ID, Verified: true, Pair: pair}, nil
}

// RequestPasswordChange issues an OTP pair with mode change-password for a verified account.
// Unknown and unverified emails yield ErrInvalidCredentials and ErrUnverifiedEmail respectively.
func (s *AccountService) RequestPasswordChange(ctx context.Context, email string) (pair *TokenPair, err error) {
	ctx, span := s.obs.start(ctx, "AccountService.RequestPasswordChange")
	var userID string
	defer func() {
		finish(span, err)
		s.obs.emit(ctx, EventPasswordChangeRequested, userID, err, nil)
	}()

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, persistence("load user", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	userID = user.ID
	if !user.EmailVerified {
		return nil, ErrUnverifiedEmail
	}
	return s.tokens.IssueOTPPair(ctx, user.ID, string(user.Role), security.ModeChangePassword)
}
