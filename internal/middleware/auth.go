package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ai4altruism/integritykit/internal/auth"
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Auth validates the Authorization header and stores the actor ID in the
// request context. Requests without a valid access token are rejected;
// refresh tokens are not accepted on API routes.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeAuthError(w, "Token expired")
					return
				}
				writeAuthError(w, "Invalid token")
				return
			}
			if claims.Type != auth.TokenTypeAccess {
				writeAuthError(w, "Access token required")
				return
			}

			ctx := SetActorID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	body := `{"error":{"code":"auth_failed","message":"` + message + `"}}`
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("failed to write auth error response", "error", err)
	}
}
