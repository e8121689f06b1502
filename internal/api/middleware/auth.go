// Bearer JWT middleware for the protected API surface.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/archiva-labs/archiva/internal/api/ctxkeys"
	pkgauth "github.com/archiva-labs/archiva/pkg/auth"
)

// Auth validates the Bearer JWT and injects the client id into the context.
// Applied to all /api/v1/* routes; /health and /auth/token stay public.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeUnauthorized(w, r, "missing or invalid Authorization header")
			return
		}

		claims, err := pkgauth.ParseJWT(token)
		if err != nil {
			writeUnauthorized(w, r, "invalid or expired token")
			return
		}

		ctx := ctxkeys.WithValue(r.Context(), ctxkeys.ClientID, claims.ClientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
// Returns empty string if the header is missing, has the wrong scheme, or
// carries an empty token.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")

	// "Bearer " is case-sensitive per RFC 7235.
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// writeUnauthorized writes a 401 using the same envelope as the handlers
// package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"code":       "UNAUTHORIZED",
		"message":    message,
		"request_id": chimw.GetReqID(r.Context()),
	})
}
