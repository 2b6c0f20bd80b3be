package middleware

import (
	"net/http"
	"strings"
)

const bearerPrefix = "bearer "

// Cookie and header names shared by handlers. Headers always win over cookies.
const (
	CookieAccessToken    = "access_token"
	CookieOTPAccessToken = "otp_access_token"
	CookieRefreshToken   = "refresh_token"
	CookieOTPRefresh     = "otp_refresh_token"
	HeaderRefreshToken   = "Refresh-Token"
	HeaderAPIKey         = "Api-Key"
)

// AccessToken returns the Bearer token from the Authorization header, else the named cookie, else "".
func AccessToken(r *http.Request, cookie string) string {
	if t := extractBearer(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return cookieValue(r, cookie)
}

// RefreshID returns the refresh id from the Refresh-Token header, else the named cookie, else "".
func RefreshID(r *http.Request, cookie string) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderRefreshToken)); v != "" {
		return v
	}
	return cookieValue(r, cookie)
}

// extractBearer returns the token of an "Authorization: Bearer <token>" value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func cookieValue(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
