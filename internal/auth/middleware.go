package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "policy-rag/internal/errors"
)

// ErrorFunc writes an error response.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware requires "Authorization: Bearer <token>" on every request.
// An empty token disables the check.
func Middleware(token string, onError ErrorFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				onError(w, r, apperrors.ErrUnauthorized.WithMessage("Missing authorization header"))
				return
			}

			scheme, presented, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || presented == "" {
				onError(w, r, apperrors.ErrUnauthorized.WithMessage("Invalid authorization header format"))
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				onError(w, r, apperrors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
