package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/security"
	"github.com/go-charity/auth-server/internal/server/middleware"
	userdomain "github.com/go-charity/auth-server/internal/user/domain"
)

var expiresAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func sessionPair() *service.TokenPair {
	return &service.TokenPair{
		AccessToken: "access-1", AccessExpiresAt: expiresAt.Add(-29 * 24 * time.Hour),
		RefreshID: "refresh-1", RefreshExpiresAt: expiresAt, Scope: security.ScopeDefault,
	}
}

func otpPair(mode security.Mode) *service.TokenPair {
	return &service.TokenPair{
		AccessToken: "otp-access", RefreshID: "otp-refresh", RefreshExpiresAt: expiresAt,
		Scope: security.ScopeOTP, Mode: mode,
	}
}

type stubAccounts struct {
	created  service.AccountDetails
	result   *service.AccountResult
	login    *service.LoginResult
	pair     *service.TokenPair
	err      error
	gotEmail string
	gotPass  string
}

func (s *stubAccounts) CreateAccount(ctx context.Context, d service.AccountDetails) (*service.AccountResult, error) {
	s.created = d
	return s.result, s.err
}

func (s *stubAccounts) Login(ctx context.Context, email, password string) (*service.LoginResult, error) {
	s.gotEmail, s.gotPass = email, password
	return s.login, s.err
}

func (s *stubAccounts) RequestPasswordChange(ctx context.Context, email string) (*service.TokenPair, error) {
	s.gotEmail = email
	return s.pair, s.err
}

type stubOTPs struct {
	token, email, code string
	result             *service.VerifyResult
	err                error
}

func (s *stubOTPs) CreateOTP(ctx context.Context, otpToken, email string) error {
	s.token, s.email = otpToken, email
	return s.err
}

func (s *stubOTPs) VerifyOTP(ctx context.Context, otpToken, email, code string) (*service.VerifyResult, error) {
	s.token, s.email, s.code = otpToken, email, code
	return s.result, s.err
}

type stubTokens struct {
	access, refreshID string
	scope             security.Scope
	ttl               time.Duration
	validation        *service.Validation
	pair              *service.TokenPair
	err               error
}

func (s *stubTokens) ValidateToken(ctx context.Context, access, refreshID string, scope security.Scope, ttl time.Duration) (*service.Validation, error) {
	s.access, s.refreshID, s.scope, s.ttl = access, refreshID, scope, ttl
	return s.validation, s.err
}

func (s *stubTokens) Refresh(ctx context.Context, access, refreshID string) (*service.TokenPair, error) {
	s.access, s.refreshID = access, refreshID
	return s.pair, s.err
}

type harness struct {
	accounts *stubAccounts
	otps     *stubOTPs
	tokens   *stubTokens
	mux      *http.ServeMux
}

func newHarness() *harness {
	h := &harness{accounts: &stubAccounts{}, otps: &stubOTPs{}, tokens: &stubTokens{}, mux: http.NewServeMux()}
	NewAuthHandler(h.accounts, h.otps, h.tokens, nil, Options{SecureCookies: true}).Register(h.mux)
	return h
}

func (h *harness) do(t *testing.T, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func cookiesByName(rr *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rr.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&service.ValidationError{}, http.StatusBadRequest},
		{service.ErrInvalidOTP, http.StatusBadRequest},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrRefreshTokenExpired, http.StatusUnauthorized},
		{service.ErrRefreshTokenInvalid, http.StatusUnauthorized},
		{security.ErrTokenInvalid, http.StatusUnauthorized},
		{service.ErrUnverifiedEmail, http.StatusForbidden},
		{service.ErrSubjectMismatch, http.StatusForbidden},
		{service.ErrConflict, http.StatusConflict},
		{service.ErrUnprocessableMode, http.StatusUnprocessableEntity},
		{fmt.Errorf("send: %w", service.ErrMailDispatch), http.StatusBadGateway},
		{service.ErrProfileSync, http.StatusBadGateway},
		{fmt.Errorf("insert: %w", service.ErrPersistence), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "statusFor(%v)", tc.err)
	}
}

func TestRegister_Created(t *testing.T) {
	h := newHarness()
	h.accounts.result = &service.AccountResult{User: &userdomain.User{ID: "u1"}, OTP: otpPair(security.ModeLogin)}

	rr := h.do(t, "/v1/register", `{"role":"secondary","email":"a@b.com","password":"cHc=","metadata":{"fullname":"A","phone":"1"}}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	body := decodeBody[registerResponse](t, rr)
	assert.Equal(t, "u1", body.UserID)
	assert.Equal(t, "otp-access", body.OTP.AccessToken)
	assert.Equal(t, "login", body.OTP.Mode)
	assert.Equal(t, "a@b.com", h.accounts.created.Email)
	assert.Equal(t, "A", h.accounts.created.Metadata.FullName)

	cookies := cookiesByName(rr)
	c := cookies[middleware.CookieOTPAccessToken]
	require.NotNil(t, c)
	assert.Equal(t, "otp-access", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, "otp-refresh", cookies[middleware.CookieOTPRefresh].Value)
}

func TestRegister_ValidationViolations(t *testing.T) {
	h := newHarness()
	h.accounts.err = &service.ValidationError{Violations: []service.Violation{{Field: "email", Rule: "email"}, {Field: "role", Rule: "required"}}}

	rr := h.do(t, "/v1/register", `{}`)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[errorResponse](t, rr)
	assert.Equal(t, "invalid input", body.Error)
	assert.Len(t, body.Violations, 2)
	assert.Empty(t, rr.Result().Cookies())
}

func TestRegister_MalformedBody(t *testing.T) {
	h := newHarness()
	rr := h.do(t, "/v1/register", `{"email":`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[errorResponse](t, rr)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, "body", body.Violations[0].Field)
}

func TestRegister_Conflict(t *testing.T) {
	h := newHarness()
	h.accounts.err = service.ErrConflict
	rr := h.do(t, "/v1/register", `{}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRegister_PersistenceHidesDetail(t *testing.T) {
	h := newHarness()
	h.accounts.err = fmt.Errorf("insert user: %w: %w", service.ErrPersistence, fmt.Errorf("pq: secret detail"))
	rr := h.do(t, "/v1/register", `{}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret detail")
}

func TestLogin_Verified(t *testing.T) {
	h := newHarness()
	h.accounts.login = &service.LoginResult{UserID: "u1", Verified: true, Pair: sessionPair()}

	rr := h.do(t, "/v1/login", `{"email":"a@b.com","password":"cHc="}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a@b.com", h.accounts.gotEmail)
	assert.Equal(t, "cHc=", h.accounts.gotPass)
	body := decodeBody[loginResponse](t, rr)
	assert.True(t, body.Verified)
	assert.Equal(t, "refresh-1", body.Tokens.RefreshToken)
	cookies := cookiesByName(rr)
	assert.Equal(t, "access-1", cookies[middleware.CookieAccessToken].Value)
	assert.Equal(t, "refresh-1", cookies[middleware.CookieRefreshToken].Value)
	assert.WithinDuration(t, expiresAt, cookies[middleware.CookieAccessToken].Expires, time.Second)
}

func TestLogin_UnverifiedGetsOTPPair(t *testing.T) {
	h := newHarness()
	h.accounts.login = &service.LoginResult{UserID: "u1", Verified: false, Pair: otpPair(security.ModeLogin)}

	rr := h.do(t, "/v1/login", `{"email":"a@b.com","password":"cHc="}`)

	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeBody[loginResponse](t, rr)
	assert.False(t, body.Verified)
	assert.Equal(t, "otp", body.Tokens.Scope)
	assert.Equal(t, service.ErrUnverifiedEmail.Error(), body.Error)
	assert.Equal(t, "otp-access", cookiesByName(rr)[middleware.CookieOTPAccessToken].Value)
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newHarness()
	h.accounts.err = service.ErrInvalidCredentials
	rr := h.do(t, "/v1/login", `{"email":"a@b.com","password":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid credentials", decodeBody[errorResponse](t, rr).Error)
}

func TestCreateOTP_HeaderBeatsCookie(t *testing.T) {
	h := newHarness()
	rr := h.do(t, "/v1/otp", `{"email":"a@b.com"}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer from-header")
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPAccessToken, Value: "from-cookie"})
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "from-header", h.otps.token)
	assert.Equal(t, "a@b.com", h.otps.email)
}

func TestCreateOTP_CookieFallback(t *testing.T) {
	h := newHarness()
	rr := h.do(t, "/v1/otp", `{"email":"a@b.com"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPAccessToken, Value: "from-cookie"})
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "from-cookie", h.otps.token)
}

func TestCreateOTP_Errors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrSubjectMismatch, http.StatusForbidden},
		{security.ErrTokenExpired, http.StatusUnauthorized},
		{fmt.Errorf("dispatch: %w", service.ErrMailDispatch), http.StatusBadGateway},
	}
	for _, tc := range cases {
		h := newHarness()
		h.otps.err = tc.err
		rr := h.do(t, "/v1/otp", `{"email":"a@b.com"}`)
		assert.Equal(t, tc.want, rr.Code, "error %v", tc.err)
	}
}

func TestVerifyOTP_LoginSession(t *testing.T) {
	h := newHarness()
	h.otps.result = &service.VerifyResult{Mode: security.ModeLogin, UserID: "u1", FirstVerification: true, Session: sessionPair()}
	code := base64.StdEncoding.EncodeToString([]byte("123456"))

	rr := h.do(t, "/v1/otp/verify", `{"email":"a@b.com","otp":"`+code+`"}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer otp-token")
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "123456", h.otps.code)
	assert.Equal(t, "otp-token", h.otps.token)
	body := decodeBody[verifyResponse](t, rr)
	assert.Equal(t, "login", body.Mode)
	assert.True(t, body.FirstVerification)
	require.NotNil(t, body.Tokens)
	assert.Equal(t, "access-1", body.Tokens.AccessToken)

	cookies := cookiesByName(rr)
	assert.Equal(t, "access-1", cookies[middleware.CookieAccessToken].Value)
	assert.Equal(t, -1, cookies[middleware.CookieOTPAccessToken].MaxAge)
	assert.Equal(t, -1, cookies[middleware.CookieOTPRefresh].MaxAge)
}

func TestVerifyOTP_ChangePassword(t *testing.T) {
	h := newHarness()
	h.otps.result = &service.VerifyResult{Mode: security.ModeChangePassword, UserID: "u1", PasswordChangeAllowed: true}
	code := base64.StdEncoding.EncodeToString([]byte("123456"))

	rr := h.do(t, "/v1/otp/verify", `{"email":"a@b.com","otp":"`+code+`"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[verifyResponse](t, rr)
	assert.True(t, body.PasswordChangeAllowed)
	assert.Nil(t, body.Tokens)
	assert.Empty(t, rr.Result().Cookies())
}

func TestVerifyOTP_BadEncodingNeverReachesService(t *testing.T) {
	h := newHarness()
	rr := h.do(t, "/v1/otp/verify", `{"email":"a@b.com","otp":"12 34 56"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid otp", decodeBody[errorResponse](t, rr).Error)
	assert.Empty(t, h.otps.email)
}

func TestVerifyOTP_UnknownMode(t *testing.T) {
	h := newHarness()
	h.otps.err = service.ErrUnprocessableMode
	code := base64.StdEncoding.EncodeToString([]byte("123456"))
	rr := h.do(t, "/v1/otp/verify", `{"email":"a@b.com","otp":"`+code+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestValidate_Active(t *testing.T) {
	h := newHarness()
	h.tokens.validation = &service.Validation{Claim: &security.Claim{SubjectID: "u1", Role: "primary"}}

	rr := h.do(t, "/v1/token/validate", ``, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.CookieAccessToken, Value: "cookie-access"})
		r.AddCookie(&http.Cookie{Name: middleware.CookieRefreshToken, Value: "cookie-refresh"})
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cookie-access", h.tokens.access)
	assert.Equal(t, "cookie-refresh", h.tokens.refreshID)
	assert.Equal(t, security.ScopeDefault, h.tokens.scope)
	body := decodeBody[validateResponse](t, rr)
	assert.Equal(t, "u1", body.UserID)
	assert.Nil(t, body.Rotated)
}

func TestValidate_RotatedIsCreated(t *testing.T) {
	h := newHarness()
	h.tokens.validation = &service.Validation{
		Claim:   &security.Claim{SubjectID: "u1", Role: "primary"},
		Rotated: sessionPair(),
	}

	rr := h.do(t, "/v1/token/validate", `{"access_token":"body-access","refresh_token":"body-refresh","ttl_seconds":60}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer header-access")
	})

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "body-access", h.tokens.access)
	assert.Equal(t, "body-refresh", h.tokens.refreshID)
	assert.Equal(t, time.Minute, h.tokens.ttl)
	body := decodeBody[validateResponse](t, rr)
	require.NotNil(t, body.Rotated)
	assert.Equal(t, "refresh-1", body.Rotated.RefreshToken)
	assert.Equal(t, "refresh-1", cookiesByName(rr)[middleware.CookieRefreshToken].Value)
}

func TestValidate_OTPScopeUsesOTPCookies(t *testing.T) {
	h := newHarness()
	h.tokens.validation = &service.Validation{Claim: &security.Claim{SubjectID: "u1", Role: "primary", Mode: security.ModeLogin}}

	rr := h.do(t, "/v1/token/validate", `{"scope":"otp"}`, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.CookieAccessToken, Value: "session"})
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPAccessToken, Value: "otp"})
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPRefresh, Value: "otp-refresh"})
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, security.ScopeOTP, h.tokens.scope)
	assert.Equal(t, "otp", h.tokens.access)
	assert.Equal(t, "otp-refresh", h.tokens.refreshID)
	assert.Equal(t, "login", decodeBody[validateResponse](t, rr).Mode)
}

func TestValidate_BadScope(t *testing.T) {
	h := newHarness()
	rr := h.do(t, "/v1/token/validate", `{"scope":"admin"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "scope", decodeBody[errorResponse](t, rr).Violations[0].Field)
}

func TestValidate_TTLBounds(t *testing.T) {
	cases := []struct {
		ttl      string
		wantCode int
		wantRule string
	}{
		{"-1", http.StatusBadRequest, "gte"},
		{"86400", http.StatusOK, ""},
		{"86401", http.StatusBadRequest, "lte"},
		{"9223372037", http.StatusBadRequest, "lte"},
		{"18446744074", http.StatusBadRequest, "lte"},
	}
	for _, tc := range cases {
		t.Run(tc.ttl, func(t *testing.T) {
			h := newHarness()
			h.tokens.validation = &service.Validation{Claim: &security.Claim{SubjectID: "u1", Role: "primary"}}
			rr := h.do(t, "/v1/token/validate", `{"access_token":"x","refresh_token":"y","ttl_seconds":`+tc.ttl+`}`)
			require.Equal(t, tc.wantCode, rr.Code)
			if tc.wantRule == "" {
				assert.Equal(t, 24*time.Hour, h.tokens.ttl)
				return
			}
			v := decodeBody[errorResponse](t, rr).Violations
			require.Len(t, v, 1)
			assert.Equal(t, "ttl_seconds", v[0].Field)
			assert.Equal(t, tc.wantRule, v[0].Rule)
			assert.Empty(t, h.tokens.access, "service must not be called")
		})
	}
}

func TestValidate_Rejected(t *testing.T) {
	for _, err := range []error{security.ErrTokenInvalid, service.ErrRefreshTokenExpired, service.ErrRefreshTokenInvalid} {
		h := newHarness()
		h.tokens.err = err
		rr := h.do(t, "/v1/token/validate", `{"access_token":"x","refresh_token":"y"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "error %v", err)
		assert.Empty(t, rr.Result().Cookies())
	}
}

func TestRefresh_FallsBackToOTPCookies(t *testing.T) {
	h := newHarness()
	h.tokens.pair = otpPair(security.ModeChangePassword)

	rr := h.do(t, "/v1/token/refresh", ``, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPAccessToken, Value: "otp"})
		r.AddCookie(&http.Cookie{Name: middleware.CookieOTPRefresh, Value: "otp-refresh"})
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "otp", h.tokens.access)
	assert.Equal(t, "otp-refresh", h.tokens.refreshID)
	body := decodeBody[pairResponse](t, rr)
	assert.Equal(t, "change-password", body.Mode)
	assert.Equal(t, "otp-access", cookiesByName(rr)[middleware.CookieOTPAccessToken].Value)
}

func TestRefresh_HeaderRefreshID(t *testing.T) {
	h := newHarness()
	h.tokens.pair = sessionPair()
	rr := h.do(t, "/v1/token/refresh", `{"access_token":"a"}`, func(r *http.Request) {
		r.Header.Set(middleware.HeaderRefreshToken, "header-refresh")
		r.AddCookie(&http.Cookie{Name: middleware.CookieRefreshToken, Value: "cookie-refresh"})
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "header-refresh", h.tokens.refreshID)
}

func TestPasswordChangeRequest(t *testing.T) {
	h := newHarness()
	h.accounts.pair = otpPair(security.ModeChangePassword)
	rr := h.do(t, "/v1/password/change-request", `{"email":"a@b.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a@b.com", h.accounts.gotEmail)
	assert.Equal(t, "change-password", decodeBody[pairResponse](t, rr).Mode)

	h = newHarness()
	h.accounts.err = service.ErrUnverifiedEmail
	rr = h.do(t, "/v1/password/change-request", `{"email":"a@b.com"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	h := newHarness()
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSetsSubjectForAudit(t *testing.T) {
	h := newHarness()
	h.accounts.login = &service.LoginResult{UserID: "u9", Verified: true, Pair: sessionPair()}
	var seen string
	wrapped := middleware.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mux.ServeHTTP(w, r)
		seen, _ = middleware.GetSubjectID(r.Context())
	}), middleware.Audit(nil, nil))
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/login", strings.NewReader(`{"email":"a@b.com","password":"cHc="}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u9", seen)
}
