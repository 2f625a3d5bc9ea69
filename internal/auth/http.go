// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts JWT from Authorization header and adds the account to context

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/parleyhq/parley-gateway/internal/store"
)

// AccountStore is the slice of the store the middleware needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
}

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

// Middleware creates an HTTP middleware that extracts and validates JWT
// tokens, loads the account, and adds AuthContext to the request context via
// the WithAuth/FromContext pattern.
func Middleware(accounts AccountStore, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			accountID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			account, err := accounts.GetAccount(r.Context(), accountID)
			if err != nil {
				http.Error(w, `{"error":"account not found"}`, http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{
				AccountID: account.ID,
				Role:      account.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireExpert creates an HTTP middleware that requires the expert role.
// Must be used after Middleware.
func RequireExpert() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !authCtx.IsExpert() {
				http.Error(w, `{"error":"expert role required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
