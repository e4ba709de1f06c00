package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// AuthMiddleware gates the API behind the shared node key. Every
// surface except health requires it.
type AuthMiddleware struct {
	keyHash [32]byte
}

func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{keyHash: sha256.Sum256([]byte(apiKey))}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing API key",
			})
			return
		}

		// Compare hashes so length differences leak nothing.
		hash := sha256.Sum256([]byte(key))
		if subtle.ConstantTimeCompare(hash[:], m.keyHash[:]) != 1 {
			log.Warn().Str("path", r.URL.Path).Msg("auth middleware: invalid API key attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}
