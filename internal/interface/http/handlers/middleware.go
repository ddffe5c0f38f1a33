package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth checks a static key list. With no keys configured every request
// passes.
type APIKeyAuth struct {
	headerName string
	keys       [][]byte
}

// NewAPIKeyAuth creates a new API key authenticator.
func NewAPIKeyAuth(headerName string, keys []string) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	a := &APIKeyAuth{headerName: headerName}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			a.keys = append(a.keys, []byte(key))
		}
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// IsValid checks a key in constant time per configured key.
func (a *APIKeyAuth) IsValid(key string) bool {
	candidate := []byte(key)
	valid := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(k, candidate) == 1 {
			valid = true
		}
	}
	return valid
}

// Middleware rejects requests without a valid key.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(a.headerName)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		switch {
		case key == "":
			writeError(w, http.StatusUnauthorized, `{"success":false,"error":{"code":"missing_api_key","message":"API key is required"}}`)
		case !a.IsValid(key):
			writeError(w, http.StatusUnauthorized, `{"success":false,"error":{"code":"invalid_api_key","message":"Invalid API key"}}`)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// NoCacheMiddleware prevents caching of live schedule data.
func NoCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// SecurityHeadersMiddleware adds security-related headers.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimitMiddleware limits the size of request bodies.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, `{"success":false,"error":{"code":"payload_too_large","message":"Request body too large"}}`)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// MiddlewareFunc is a function that wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain applies middlewares so the first one is outermost.
func Chain(handler http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
