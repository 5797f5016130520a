// Package middleware provides HTTP middleware for the master API:
// bearer-token auth for operators, API-key auth for node agents, and
// role gates.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wpfleet/wpfleet/internal/master/api/auth"
	"github.com/wpfleet/wpfleet/pkg/master/api/handlers"
	"github.com/wpfleet/wpfleet/pkg/models"
	"github.com/wpfleet/wpfleet/pkg/store"
)

// Context key type for storing authenticated principals.
type contextKey string

const (
	claimsContextKey contextKey = "claims"
	nodeContextKey   contextKey = "node"
)

// APIKeyHeader carries the node agent's credential.
const APIKeyHeader = "X-API-KEY"

// GetClaimsFromContext retrieves JWT claims from the request context.
// Returns nil if no claims are present (route without JWTAuth, or
// API-key authenticated).
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// GetNodeFromContext retrieves the authenticated node from the request
// context. Returns nil outside NodeAPIKeyAuth routes.
func GetNodeFromContext(ctx context.Context) *models.Node {
	node, ok := ctx.Value(nodeContextKey).(*models.Node)
	if !ok {
		return nil
	}
	return node
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// JWTAuth validates Bearer access tokens and stores the claims in the
// request context. Tokens from the mfa-pending scope are rejected here;
// they are only good for the MFA verification endpoint.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				handlers.Unauthorized(w, "Authorization header required")
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				handlers.Unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole blocks users below the given role. Must run after JWTAuth.
func RequireRole(min models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				handlers.Unauthorized(w, "Authentication required")
				return
			}
			if !claims.Role.AtLeast(min) {
				handlers.Forbidden(w, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NodeAPIKeyAuth authenticates agent requests by the X-API-KEY header
// and stores the node in the request context. Blocked nodes get 403 so
// the agent can tell revocation apart from a bad key.
func NodeAPIKeyAuth(st *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				handlers.Unauthorized(w, "API key required")
				return
			}

			node, err := st.AuthenticateNode(r.Context(), key)
			if err != nil {
				if errors.Is(err, models.ErrNodeBlocked) {
					handlers.Forbidden(w, "Node is blocked")
					return
				}
				handlers.Unauthorized(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), nodeContextKey, node)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NodeOrUserAuth accepts either an agent API key or an operator bearer
// token. Used by the progress stream, which both sides consume.
func NodeOrUserAuth(jwtService *auth.JWTService, st *store.Store) func(http.Handler) http.Handler {
	jwtAuth := JWTAuth(jwtService)
	nodeAuth := NodeAPIKeyAuth(st)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(APIKeyHeader) != "" {
				nodeAuth(next).ServeHTTP(w, r)
				return
			}
			jwtAuth(next).ServeHTTP(w, r)
		})
	}
}

// TokenQueryParam allows EventSource clients, which cannot set headers,
// to pass the bearer token as ?token=. It rewrites the query token into
// the Authorization header before JWTAuth runs.
func TokenQueryParam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := r.URL.Query().Get("token"); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}
