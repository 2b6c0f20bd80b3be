// Package middleware holds the HTTP filters that run before the identity handlers: API key
// check, client IP, audit and telemetry. It also extracts credentials from headers and cookies.
package middleware

import "net/http"

// Chain wraps h so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
