package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/security"
	"github.com/go-charity/auth-server/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// maxTTLSeconds caps the ttl_seconds override on validate.
const maxTTLSeconds = 24 * 60 * 60

// Accounts is the account workflow used by the register, login and password endpoints.
type Accounts interface {
	CreateAccount(ctx context.Context, d service.AccountDetails) (*service.AccountResult, error)
	Login(ctx context.Context, email, encodedPassword string) (*service.LoginResult, error)
	RequestPasswordChange(ctx context.Context, email string) (*service.TokenPair, error)
}

// OTPs creates and redeems emailed codes.
type OTPs interface {
	CreateOTP(ctx context.Context, otpToken, email string) error
	VerifyOTP(ctx context.Context, otpToken, email, code string) (*service.VerifyResult, error)
}

// Tokens validates and rotates token pairs.
type Tokens interface {
	ValidateToken(ctx context.Context, access, refreshID string, scope security.Scope, ttl time.Duration) (*service.Validation, error)
	Refresh(ctx context.Context, access, refreshID string) (*service.TokenPair, error)
}

// Options configures the HTTP handlers.
type Options struct {
	// SecureCookies sets the Secure attribute on issued cookies. Enabled in production.
	SecureCookies bool
}

// AuthHandler serves the public auth API over HTTP.
type AuthHandler struct {
	accounts Accounts
	otps     OTPs
	tokens   Tokens
	log      logging.Logger
	secure   bool
}

// NewAuthHandler returns an AuthHandler. A nil log discards output.
func NewAuthHandler(accounts Accounts, otps OTPs, tokens Tokens, log logging.Logger, opts Options) *AuthHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AuthHandler{accounts: accounts, otps: otps, tokens: tokens, log: log, secure: opts.SecureCookies}
}

// Register mounts every route on mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/register", h.register)
	mux.HandleFunc("POST /v1/login", h.login)
	mux.HandleFunc("POST /v1/otp", h.createOTP)
	mux.HandleFunc("POST /v1/otp/verify", h.verifyOTP)
	mux.HandleFunc("POST /v1/token/validate", h.validate)
	mux.HandleFunc("POST /v1/token/refresh", h.refresh)
	mux.HandleFunc("POST /v1/password/change-request", h.passwordChangeRequest)
}

type pairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Scope            string    `json:"scope"`
	Mode             string    `json:"mode,omitempty"`
}

func toPairResponse(p *service.TokenPair) *pairResponse {
	if p == nil {
		return nil
	}
	return &pairResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshID,
		RefreshExpiresAt: p.RefreshExpiresAt,
		Scope:            string(p.Scope),
		Mode:             string(p.Mode),
	}
}

type registerResponse struct {
	UserID string        `json:"user_id"`
	OTP    *pairResponse `json:"otp"`
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var d service.AccountDetails
	if !h.decode(w, r, &d) {
		return
	}
	res, err := h.accounts.CreateAccount(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.SetSubjectID(r.Context(), res.User.ID)
	h.setPairCookies(w, res.OTP)
	writeJSON(w, http.StatusCreated, registerResponse{UserID: res.User.ID, OTP: toPairResponse(res.OTP)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID   string        `json:"user_id"`
	Verified bool          `json:"verified"`
	Tokens   *pairResponse `json:"tokens"`
	Error    string        `json:"error,omitempty"`
}

// login answers 200 with a session for verified accounts and 403 with an OTP pair for unverified ones,
// so the client can go straight to the OTP flow.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.SetSubjectID(r.Context(), res.UserID)
	h.setPairCookies(w, res.Pair)
	body := loginResponse{UserID: res.UserID, Verified: res.Verified, Tokens: toPairResponse(res.Pair)}
	if !res.Verified {
		body.Error = service.ErrUnverifiedEmail.Error()
		writeJSON(w, http.StatusForbidden, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type emailRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) createOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.otps.CreateOTP(r.Context(), middleware.AccessToken(r, middleware.CookieOTPAccessToken), req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "otp sent"})
}

type verifyRequest struct {
	Email string `json:"email"`
	// OTP is the base64 encoding of the emailed code.
	OTP string `json:"otp"`
}

type verifyResponse struct {
	UserID                string        `json:"user_id"`
	Mode                  string        `json:"mode"`
	FirstVerification     bool          `json:"first_verification,omitempty"`
	Tokens                *pairResponse `json:"tokens,omitempty"`
	PasswordChangeAllowed bool          `json:"password_change_allowed,omitempty"`
}

func (h *AuthHandler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	code, err := security.DecodeSecret(req.OTP)
	if err != nil {
		h.fail(w, r, service.ErrInvalidOTP)
		return
	}
	res, err := h.otps.VerifyOTP(r.Context(), middleware.AccessToken(r, middleware.CookieOTPAccessToken), req.Email, string(code))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.SetSubjectID(r.Context(), res.UserID)
	if res.Session != nil {
		h.clearOTPCookies(w)
		h.setPairCookies(w, res.Session)
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		UserID:                res.UserID,
		Mode:                  string(res.Mode),
		FirstVerification:     res.FirstVerification,
		Tokens:                toPairResponse(res.Session),
		PasswordChangeAllowed: res.PasswordChangeAllowed,
	})
}

type validateRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	// TTLSeconds overrides the lifetime of a rotated access token.
	TTLSeconds int64 `json:"ttl_seconds"`
}

type validateResponse struct {
	UserID  string        `json:"user_id"`
	Role    string        `json:"role"`
	Mode    string        `json:"mode,omitempty"`
	Rotated *pairResponse `json:"tokens,omitempty"`
}

// validate answers 200 for an active token and 201 when an expired one was rotated.
func (h *AuthHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	scope, err := security.ParseScope(req.Scope)
	if err != nil {
		h.fail(w, r, &service.ValidationError{Violations: []service.Violation{{Field: "scope", Rule: "oneof"}}})
		return
	}
	if req.TTLSeconds < 0 {
		h.fail(w, r, &service.ValidationError{Violations: []service.Violation{{Field: "ttl_seconds", Rule: "gte"}}})
		return
	}
	if req.TTLSeconds > maxTTLSeconds {
		h.fail(w, r, &service.ValidationError{Violations: []service.Violation{{Field: "ttl_seconds", Rule: "lte"}}})
		return
	}
	accessCookie, refreshCookie := cookieNames(scope)
	access := firstNonEmpty(req.AccessToken, middleware.AccessToken(r, accessCookie))
	refreshID := firstNonEmpty(req.RefreshToken, middleware.RefreshID(r, refreshCookie))

	v, err := h.tokens.ValidateToken(r.Context(), access, refreshID, scope, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.SetSubjectID(r.Context(), v.Claim.SubjectID)
	body := validateResponse{UserID: v.Claim.SubjectID, Role: v.Claim.Role, Mode: string(v.Claim.Mode)}
	if v.Rotated == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}
	h.setPairCookies(w, v.Rotated)
	body.Rotated = toPairResponse(v.Rotated)
	writeJSON(w, http.StatusCreated, body)
}

type refreshRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refresh takes credentials from the body, then headers, then session cookies, then OTP cookies.
func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	access := firstNonEmpty(req.AccessToken,
		middleware.AccessToken(r, middleware.CookieAccessToken),
		middleware.AccessToken(r, middleware.CookieOTPAccessToken))
	refreshID := firstNonEmpty(req.RefreshToken,
		middleware.RefreshID(r, middleware.CookieRefreshToken),
		middleware.RefreshID(r, middleware.CookieOTPRefresh))

	pair, err := h.tokens.Refresh(r.Context(), access, refreshID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setPairCookies(w, pair)
	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

func (h *AuthHandler) passwordChangeRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	pair, err := h.accounts.RequestPasswordChange(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setPairCookies(w, pair)
	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

// decode reads a required JSON body into dst, answering 400 itself on failure.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.fail(w, r, &service.ValidationError{Violations: []service.Violation{{Field: "body", Rule: "json"}}})
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose credentials may come entirely from headers or cookies.
func (h *AuthHandler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.fail(w, r, &service.ValidationError{Violations: []service.Violation{{Field: "body", Rule: "json"}}})
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
