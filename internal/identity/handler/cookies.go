package handler

import (
	"net/http"
	"time"

	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/security"
	"github.com/go-charity/auth-server/internal/server/middleware"
)

func cookieNames(scope security.Scope) (access, refresh string) {
	if scope == security.ScopeOTP {
		return middleware.CookieOTPAccessToken, middleware.CookieOTPRefresh
	}
	return middleware.CookieAccessToken, middleware.CookieRefreshToken
}

// setPairCookies stores both halves of p until the refresh record expires; the access cookie must
// outlive its token so an expired token can still be presented for rotation.
func (h *AuthHandler) setPairCookies(w http.ResponseWriter, p *service.TokenPair) {
	if p == nil {
		return
	}
	access, refresh := cookieNames(p.Scope)
	http.SetCookie(w, h.cookie(access, p.AccessToken, p.RefreshExpiresAt))
	http.SetCookie(w, h.cookie(refresh, p.RefreshID, p.RefreshExpiresAt))
}

func (h *AuthHandler) clearOTPCookies(w http.ResponseWriter) {
	for _, name := range []string{middleware.CookieOTPAccessToken, middleware.CookieOTPRefresh} {
		c := h.cookie(name, "", time.Unix(0, 0))
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func (h *AuthHandler) cookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	}
}
