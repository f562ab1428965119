// ABOUTME: HTTP middleware and credential extraction for JWT authentication
// ABOUTME: Reads the bearer token from the Authorization header or the token query parameter

package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/2389/chat-gateway/internal/chaterr"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequestToken returns the credential presented by r. Browsers cannot set
// headers on a websocket handshake, so the "token" query parameter is
// accepted when no Authorization header is present.
func RequestToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, errMsg := extractBearerToken(header)
		if errMsg != "" {
			return "", fmt.Errorf("%w: %s", chaterr.ErrAuth, errMsg)
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%w: missing credential", chaterr.ErrAuth)
}

// Authenticate verifies the credential carried by r.
// Every failure wraps chaterr.ErrAuth.
func Authenticate(r *http.Request, verifier TokenVerifier) (*Identity, error) {
	token, err := RequestToken(r)
	if err != nil {
		return nil, err
	}
	id, err := verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chaterr.ErrAuth, err)
	}
	return id, nil
}

// WriteAuthError writes a 401 JSON body describing err.
func WriteAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(chaterr.KindAuth),
		"message": err.Error(),
	})
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens and attaches the Identity to the request context.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := Authenticate(r, verifier)
			if err != nil {
				WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
