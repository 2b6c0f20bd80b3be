package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/go-charity/auth-server/internal/mailer"
	"github.com/go-charity/auth-server/internal/otp"
	otpdomain "github.com/go-charity/auth-server/internal/otp/domain"
	"github.com/go-charity/auth-server/internal/profilesync"
	"github.com/go-charity/auth-server/internal/security"
	userdomain "github.com/go-charity/auth-server/internal/user/domain"
)

// DefaultOTPTTL is how long an emailed code stays redeemable.
const DefaultOTPTTL = time.Hour

// VerifyResult is what a successful OTP verification unlocked.
type VerifyResult struct {
	Mode   security.Mode
	UserID string
	// FirstVerification is true when this call flipped the account to verified.
	FirstVerification bool
	// Session is set for login mode.
	Session *TokenPair
	// PasswordChangeAllowed is set for change-password mode.
	PasswordChangeAllowed bool
}

// OTPOptions configures an OTPService.
type OTPOptions struct {
	MailFrom string
	// CodeTTL is the lifetime of a code; zero means DefaultOTPTTL.
	CodeTTL time.Duration
	Clock   Clock
}

// modeHandler runs the side effects of a successful verification for one claim mode.
type modeHandler func(ctx context.Context, user *userdomain.User) (*VerifyResult, error)

// OTPService creates and verifies emailed one-time passcodes.
type OTPService struct {
	tokens   *TokenService
	users    UserRepo
	profiles ProfileRepo
	codes    OTPStore
	hasher   *security.Hasher
	mail     mailer.Dispatcher
	syncer   profilesync.Syncer
	from     string
	ttl      time.Duration
	now      Clock
	obs      *Observer

	// dummyHash is compared against when no record exists so a miss costs as much as a mismatch.
	dummyHash string
	modes     map[security.Mode]modeHandler
}

// NewOTPService returns an OTPService.
func NewOTPService(
	tokens *TokenService,
	users UserRepo,
	profiles ProfileRepo,
	codes OTPStore,
	hasher *security.Hasher,
	mail mailer.Dispatcher,
	syncer profilesync.Syncer,
	obs *Observer,
	opts OTPOptions,
) (*OTPService, error) {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = DefaultOTPTTL
	}
	if opts.Clock == nil {
		opts.Clock = defaultClock
	}
	dummy, err := hasher.Hash([]byte("000000"))
	if err != nil {
		return nil, err
	}
	s := &OTPService{
		tokens:    tokens,
		users:     users,
		profiles:  profiles,
		codes:     codes,
		hasher:    hasher,
		mail:      mail,
		syncer:    syncer,
		from:      opts.MailFrom,
		ttl:       opts.CodeTTL,
		now:       opts.Clock,
		obs:       orNoop(obs),
		dummyHash: dummy,
	}
	s.modes = map[security.Mode]modeHandler{
		security.ModeLogin:          s.completeLogin,
		security.ModeChangePassword: s.allowPasswordChange,
	}
	return s, nil
}

// CreateOTP replaces any code for email with a fresh one and emails it. otpToken must be a valid
// OTP-scoped access token whose subject owns email. A dispatch failure is returned but the stored
// code is kept.
func (s *OTPService) CreateOTP(ctx context.Context, otpToken, email string) (err error) {
	ctx, span := s.obs.start(ctx, "OTPService.CreateOTP")
	var userID string
	defer func() {
		finish(span, err)
		s.obs.emit(ctx, EventOTPCreated, userID, err, nil)
	}()

	_, user, err := s.authorize(ctx, otpToken, email)
	if err != nil {
		return err
	}
	userID = user.ID

	code, err := otp.GenerateCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := s.hasher.Hash([]byte(code))
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	now := s.now()
	rec := &otpdomain.Record{
		Email:     user.Email,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.codes.Replace(ctx, rec); err != nil {
		return persistence("store otp", err)
	}

	msg, err := mailer.OTPMessage(s.from, user.Email, code, s.ttl)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMailDispatch, err)
	}
	receipt, err := s.mail.Send(ctx, msg)
	if err != nil {
		s.obs.log.Error(ctx, "otp email dispatch failed", "user_id", user.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrMailDispatch, err)
	}
	if !receipt.Accepted {
		s.obs.log.Error(ctx, "otp email not accepted", "user_id", user.ID, "detail", receipt.Detail)
		return fmt.Errorf("%w: %s", ErrMailDispatch, receipt.Detail)
	}
	s.obs.log.Info(ctx, "otp created", "user_id", user.ID)
	return nil
}

// VerifyOTP redeems code for email and runs the side effects of the mode carried by otpToken.
// A missing, mismatched or expired code all yield ErrInvalidOTP. The record is deleted before the
// mode is dispatched, so a code verifies at most once even when the mode is unknown.
func (s *OTPService) VerifyOTP(ctx context.Context, otpToken, email, code string) (res *VerifyResult, err error) {
	ctx, span := s.obs.start(ctx, "OTPService.VerifyOTP")
	var mode security.Mode
	var userID string
	defer func() {
		span.SetAttributes(attribute.String("mode", string(mode)))
		finish(span, err)
		s.obs.count(ctx, s.obs.verifications, err, attribute.String("mode", string(mode)))
		s.obs.emit(ctx, EventOTPVerified, userID, err, map[string]string{"mode": string(mode)})
	}()

	claim, user, err := s.authorize(ctx, otpToken, email)
	if err != nil {
		return nil, err
	}
	mode, userID = claim.Mode, user.ID

	rec, err := s.codes.Find(ctx, user.Email)
	if err != nil {
		return nil, persistence("find otp", err)
	}
	if !s.codeMatches(rec, code) {
		return nil, ErrInvalidOTP
	}
	removed, err := s.codes.Delete(ctx, rec.Email, rec.CodeHash)
	if err != nil {
		return nil, persistence("delete otp", err)
	}
	if !removed {
		return nil, ErrInvalidOTP
	}

	handle, ok := s.modes[claim.Mode]
	if !ok {
		s.obs.log.Error(ctx, "otp claim carries unknown mode", "kind", "configuration", "mode", string(claim.Mode), "user_id", user.ID)
		return nil, ErrUnprocessableMode
	}
	return handle(ctx, user)
}

// codeMatches always runs one bcrypt comparison so absent and wrong codes take the same time.
func (s *OTPService) codeMatches(rec *otpdomain.Record, code string) bool {
	hash := s.dummyHash
	if rec != nil {
		hash = rec.CodeHash
	}
	match := s.hasher.Compare(hash, []byte(code)) == nil
	return rec != nil && match && otp.WellFormed(code) && !rec.Expired(s.now())
}

// completeLogin marks the email verified and opens a session. On the first verification the staged
// profile is pushed downstream; if that fails the verified flag and the new session are rolled back.
func (s *OTPService) completeLogin(ctx context.Context, user *userdomain.User) (*VerifyResult, error) {
	first, err := s.users.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return nil, persistence("mark email verified", err)
	}
	pair, err := s.tokens.IssuePair(ctx, user.ID, string(user.Role))
	if err != nil {
		s.revertVerified(ctx, user.ID, first)
		return nil, err
	}
	if first {
		if err := s.syncProfile(ctx, user.ID, pair); err != nil {
			s.revertVerified(ctx, user.ID, first)
			if rerr := s.tokens.Revoke(ctx, pair.RefreshID, user.ID); rerr != nil {
				s.obs.log.Error(ctx, "revoke session after failed profile sync", "user_id", user.ID, "error", rerr)
			}
			return nil, err
		}
	}
	s.obs.log.Info(ctx, "email verified", "user_id", user.ID, "first", first)
	return &VerifyResult{Mode: security.ModeLogin, UserID: user.ID, FirstVerification: first, Session: pair}, nil
}

func (s *OTPService) allowPasswordChange(ctx context.Context, user *userdomain.User) (*VerifyResult, error) {
	return &VerifyResult{Mode: security.ModeChangePassword, UserID: user.ID, PasswordChangeAllowed: true}, nil
}

func (s *OTPService) syncProfile(ctx context.Context, userID string, pair *TokenPair) (err error) {
	defer func() { s.obs.emit(ctx, EventProfileSynced, userID, err, nil) }()
	p, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return persistence("load staged profile", err)
	}
	if p == nil {
		return fmt.Errorf("%w: no staged profile for user", ErrProfileSync)
	}
	err = s.syncer.Sync(ctx,
		profilesync.Credentials{AccessToken: pair.AccessToken, RefreshID: pair.RefreshID},
		profilesync.Details{FullName: p.FullName, Tagline: p.Tagline, PhoneNumber: p.Phone},
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProfileSync, err)
	}
	return nil
}

// revertVerified undoes MarkEmailVerified when this request was the one that set it.
func (s *OTPService) revertVerified(ctx context.Context, userID string, flipped bool) {
	if !flipped {
		return
	}
	if err := s.users.UnmarkEmailVerified(ctx, userID); err != nil {
		s.obs.log.Error(ctx, "revert email verification failed", "user_id", userID, "error", err)
	}
}

// authorize verifies otpToken and checks that its subject owns email.
func (s *OTPService) authorize(ctx context.Context, otpToken, email string) (*security.Claim, *userdomain.User, error) {
	claim, err := s.tokens.VerifyOTPClaim(otpToken)
	if err != nil {
		return nil, nil, err
	}
	email = normalizeEmail(email)
	if email == "" {
		return nil, nil, &ValidationError{Violations: []Violation{{Field: "email", Rule: "required"}}}
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, persistence("load user", err)
	}
	if user == nil || user.ID != claim.SubjectID {
		return nil, nil, ErrSubjectMismatch
	}
	return claim, user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
