package middleware

import (
	"context"
	"net/http"
)

type contextKey struct{ name string }

var (
	requestInfoKey = contextKey{"request_info"}
	clientIPKey    = contextKey{"client_ip"}
)

// requestInfo is filled in by handlers and read back by middleware after the handler returns.
type requestInfo struct {
	subjectID string
}

// ensureRequestInfo returns r's requestInfo, attaching a new one if an outer middleware has not.
func ensureRequestInfo(r *http.Request) (*http.Request, *requestInfo) {
	if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
		return r, info
	}
	info := &requestInfo{}
	return r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)), info
}

// SetSubjectID records the authenticated subject of the current request so audit and telemetry
// middleware can attribute it. No-op outside a request wrapped by this package.
func SetSubjectID(ctx context.Context, subjectID string) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.subjectID = subjectID
	}
}

// GetSubjectID returns the subject recorded with SetSubjectID and true if set; otherwise "", false.
func GetSubjectID(ctx context.Context) (string, bool) {
	info, ok := ctx.Value(requestInfoKey).(*requestInfo)
	if !ok || info.subjectID == "" {
		return "", false
	}
	return info.subjectID, true
}

// WithClientIP returns a context with the client IP set.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the client IP stored by the ClientIP middleware, or "unknown".
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
