package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/security"
)

type errorResponse struct {
	Error      string              `json:"error"`
	Violations []service.Violation `json:"violations,omitempty"`
}

// statusFor maps service errors onto HTTP status codes. Order matters: ErrRefreshTokenExpired
// also matches ErrRefreshTokenInvalid.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrRefreshTokenInvalid),
		errors.Is(err, security.ErrTokenInvalid),
		errors.Is(err, security.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUnverifiedEmail), errors.Is(err, service.ErrSubjectMismatch):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnprocessableMode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrMailDispatch), errors.Is(err, service.ErrProfileSync):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal detail for server-side failures.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal server error"
	case http.StatusUnprocessableEntity:
		return "unprocessable otp mode"
	case http.StatusBadGateway:
		if errors.Is(err, service.ErrMailDispatch) {
			return service.ErrMailDispatch.Error()
		}
		return service.ErrProfileSync.Error()
	case http.StatusUnauthorized:
		if errors.Is(err, service.ErrInvalidCredentials) {
			return service.ErrInvalidCredentials.Error()
		}
		return "invalid or expired token"
	case http.StatusBadRequest:
		if errors.Is(err, service.ErrInvalidOTP) {
			return service.ErrInvalidOTP.Error()
		}
		return service.ErrInvalidInput.Error()
	}
	return err.Error()
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	case service.IsClientError(err):
		h.log.Info(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	default:
		h.log.Warn(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	body := errorResponse{Error: publicMessage(status, err)}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		body.Violations = verr.Violations
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
