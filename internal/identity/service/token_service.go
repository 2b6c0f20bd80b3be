package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	refreshdomain "github.com/go-charity/auth-server/internal/refresh/domain"
	"github.com/go-charity/auth-server/internal/security"
)

// DefaultRefreshValidDays is the absolute lifetime of a refresh chain when none is configured.
const DefaultRefreshValidDays = 30

func defaultClock() time.Time { return time.Now().UTC() }

// TokenPair is an access token plus the refresh id that can replace it once it expires.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshID        string
	RefreshExpiresAt time.Time
	Scope            security.Scope
	Mode             security.Mode
}

// Validation is the outcome of ValidateToken. Rotated is set when the presented access token had
// expired and was replaced.
type Validation struct {
	Claim   *security.Claim
	Rotated *TokenPair
}

// TokenOptions configures a TokenService.
type TokenOptions struct {
	// RefreshValidDays is the absolute lifetime of a refresh chain; zero means DefaultRefreshValidDays.
	RefreshValidDays int
	// OTPAccessTTL is the lifetime of OTP-scoped access tokens; zero uses the codec default.
	OTPAccessTTL time.Duration
	Clock        Clock
}

// TokenService issues token pairs and runs the refresh rotation protocol.
type TokenService struct {
	codec        *security.ClaimCodec
	refresh      RefreshStore
	validDays    int
	otpAccessTTL time.Duration
	now          Clock
	obs          *Observer
}

// NewTokenService returns a TokenService. codec must use the same clock as opts.Clock.
func NewTokenService(codec *security.ClaimCodec, refresh RefreshStore, obs *Observer, opts TokenOptions) *TokenService {
	if opts.RefreshValidDays <= 0 {
		opts.RefreshValidDays = DefaultRefreshValidDays
	}
	if opts.Clock == nil {
		opts.Clock = defaultClock
	}
	return &TokenService{
		codec:        codec,
		refresh:      refresh,
		validDays:    opts.RefreshValidDays,
		otpAccessTTL: opts.OTPAccessTTL,
		now:          opts.Clock,
		obs:          orNoop(obs),
	}
}

// IssuePair mints a session pair (default scope) for subject.
func (s *TokenService) IssuePair(ctx context.Context, subjectID, role string) (*TokenPair, error) {
	return s.issue(ctx, security.Claim{SubjectID: subjectID, Role: role}, security.ScopeDefault)
}

// IssueOTPPair mints an OTP-scoped pair carrying mode. Only login and change-password are accepted.
func (s *TokenService) IssueOTPPair(ctx context.Context, subjectID, role string, mode security.Mode) (*TokenPair, error) {
	if !mode.Known() {
		return nil, ErrUnprocessableMode
	}
	return s.issue(ctx, security.Claim{SubjectID: subjectID, Role: role, Mode: mode}, security.ScopeOTP)
}

func (s *TokenService) issue(ctx context.Context, claim security.Claim, scope security.Scope) (*TokenPair, error) {
	access, err := s.codec.Sign(claim, scope, s.ttlFor(scope, 0))
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &refreshdomain.Record{
		ID:        security.NewRefreshID(),
		SubjectID: claim.SubjectID,
		Role:      claim.Role,
		Scope:     scope,
		Mode:      claim.Mode,
		ExpiresAt: now.Add(time.Duration(s.validDays) * 24 * time.Hour),
		ValidDays: s.validDays,
		CreatedAt: now,
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return nil, persistence("create refresh record", err)
	}
	return pairFrom(access, rec), nil
}

// Revoke deletes a refresh record. Used to undo a pair whose follow-up step failed.
func (s *TokenService) Revoke(ctx context.Context, refreshID, subjectID string) error {
	if _, err := s.refresh.Delete(ctx, refreshID, subjectID); err != nil {
		return persistence("delete refresh record", err)
	}
	return nil
}

// Rotate redeems the refresh record (refreshID, subjectID) and returns a replacement pair signed
// in scope. The replacement keeps the absolute expiry of the redeemed record. ttl <= 0 uses the
// scope's default access lifetime.
//
// The successor is created before the old record is deleted. If the delete finds the record already
// gone, another caller redeemed it first; the successor is discarded and ErrRefreshTokenInvalid returned.
func (s *TokenService) Rotate(ctx context.Context, refreshID, subjectID string, scope security.Scope, ttl time.Duration) (pair *TokenPair, err error) {
	ctx, span := s.obs.start(ctx, "TokenService.Rotate", attribute.String("scope", string(scope)))
	defer func() {
		finish(span, err)
		s.obs.count(ctx, s.obs.rotations, err, attribute.String("scope", string(scope)))
		s.obs.emit(ctx, EventTokenRotated, subjectID, err, map[string]string{"scope": string(scope)})
	}()

	if refreshID == "" || subjectID == "" {
		return nil, ErrRefreshTokenInvalid
	}
	rec, err := s.refresh.Find(ctx, refreshID, subjectID)
	if err != nil {
		return nil, persistence("find refresh record", err)
	}
	if rec == nil || rec.Scope != scope {
		s.obs.log.Info(ctx, "refresh rejected", "reason", "not_found", "subject_id", subjectID)
		return nil, ErrRefreshTokenInvalid
	}
	now := s.now()
	if rec.Expired(now) {
		if _, derr := s.refresh.Delete(ctx, refreshID, subjectID); derr != nil {
			s.obs.log.Warn(ctx, "delete expired refresh record failed", "subject_id", subjectID, "error", derr)
		}
		s.obs.log.Info(ctx, "refresh rejected", "reason", "expired", "subject_id", subjectID)
		return nil, ErrRefreshTokenExpired
	}

	access, err := s.codec.Sign(security.Claim{SubjectID: rec.SubjectID, Role: rec.Role, Mode: rec.Mode}, rec.Scope, s.ttlFor(rec.Scope, ttl))
	if err != nil {
		return nil, err
	}
	next := rec.Successor(now)
	if err := s.refresh.Create(ctx, next); err != nil {
		return nil, persistence("create refresh record", err)
	}
	removed, err := s.refresh.Delete(ctx, refreshID, subjectID)
	if err != nil || !removed {
		if _, derr := s.refresh.Delete(ctx, next.ID, next.SubjectID); derr != nil {
			s.obs.log.Error(ctx, "discard successor refresh record failed", "subject_id", subjectID, "error", derr)
		}
		if err != nil {
			return nil, persistence("delete refresh record", err)
		}
		s.obs.log.Info(ctx, "refresh rejected", "reason", "concurrent_redemption", "subject_id", subjectID)
		return nil, ErrRefreshTokenInvalid
	}
	return pairFrom(access, next), nil
}

// ValidateToken verifies access in scope. An expired token is rotated using refreshID and the
// replacement is verified and returned; any other verification failure is security.ErrTokenInvalid.
func (s *TokenService) ValidateToken(ctx context.Context, access, refreshID string, scope security.Scope, ttl time.Duration) (*Validation, error) {
	claim, err := s.codec.Verify(access, scope)
	switch {
	case err == nil:
		return &Validation{Claim: claim}, nil
	case !errors.Is(err, security.ErrTokenExpired):
		return nil, err
	}

	expired, err := s.codec.DecodeExpired(access, scope)
	if err != nil {
		return nil, err
	}
	pair, err := s.Rotate(ctx, refreshID, expired.SubjectID, scope, ttl)
	if err != nil {
		return nil, err
	}
	claim, err = s.codec.Verify(pair.AccessToken, scope)
	if err != nil {
		return nil, fmt.Errorf("verify rotated token: %w", err)
	}
	return &Validation{Claim: claim, Rotated: pair}, nil
}

// Refresh rotates refreshID for the subject of access, which may be expired but must carry a valid
// signature under either scope.
func (s *TokenService) Refresh(ctx context.Context, access, refreshID string) (*TokenPair, error) {
	for _, scope := range []security.Scope{security.ScopeDefault, security.ScopeOTP} {
		claim, err := s.codec.DecodeExpired(access, scope)
		if err != nil {
			continue
		}
		return s.Rotate(ctx, refreshID, claim.SubjectID, scope, 0)
	}
	return nil, security.ErrTokenInvalid
}

// VerifyOTPClaim verifies an OTP-scoped access token.
func (s *TokenService) VerifyOTPClaim(token string) (*security.Claim, error) {
	return s.codec.Verify(token, security.ScopeOTP)
}

func (s *TokenService) ttlFor(scope security.Scope, ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if scope == security.ScopeOTP {
		return s.otpAccessTTL
	}
	return 0
}

func pairFrom(access security.SignedToken, rec *refreshdomain.Record) *TokenPair {
	return &TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshID:        rec.ID,
		RefreshExpiresAt: rec.ExpiresAt,
		Scope:            rec.Scope,
		Mode:             rec.Mode,
	}
}
