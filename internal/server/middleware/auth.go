// Package middleware provides HTTP middleware for authentication and authorization.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

const (
	// userIDKey is the context key for storing the authenticated user ID.
	userIDKey ContextKey = "userID"
	roleKey   ContextKey = "role"
)

// Roles carried by authenticated requests.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// APIKeyHeader carries API keys for the programmatic /v1 surface.
const APIKeyHeader = "x-api-key"

// Principal is the identity extracted from validated token claims.
type Principal interface {
	GetUserID() uuid.UUID
	GetRole() string
}

// TokenValidator is an interface for validating JWT tokens.
// This allows the middleware to work with any JWT service implementation.
type TokenValidator interface {
	ValidateToken(tokenString string) (Principal, error)
}

// KeyResolver maps a raw API key to the account that owns it. It returns
// uuid.Nil for unknown or revoked keys.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error)
}

// AuthMiddleware creates middleware that validates JWT tokens and adds the
// user ID and role to the request context.
func AuthMiddleware(jwtService TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			// Handle case-insensitive "Bearer" prefix
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			role := claims.GetRole()
			if role == "" {
				role = RoleUser
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.GetUserID())
			ctx = context.WithValue(ctx, roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyMiddleware authenticates requests by the x-api-key header.
func APIKeyMiddleware(keys KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				deny(w, http.StatusUnauthorized, "API key required")
				return
			}

			accountID, err := keys.ResolveAPIKey(r.Context(), key)
			if err != nil {
				deny(w, http.StatusInternalServerError, "Failed to verify API key")
				return
			}
			if accountID == uuid.Nil {
				deny(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, accountID)
			ctx = context.WithValue(ctx, roleKey, RoleUser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated requests whose role is not role. It must
// run inside AuthMiddleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRole(r) != role {
				deny(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID extracts the authenticated user ID from the request context.
func GetUserID(r *http.Request) (uuid.UUID, error) {
	userID, ok := r.Context().Value(userIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user ID not found in request context")
	}
	return userID, nil
}

// GetRole returns the authenticated role, or "" for anonymous requests.
func GetRole(r *http.Request) string {
	role, _ := r.Context().Value(roleKey).(string)
	return role
}

// UserIDKey returns the context key for user ID (for testing purposes).
func UserIDKey() ContextKey {
	return userIDKey
}

// RoleKey returns the context key for the role (for testing purposes).
func RoleKey() ContextKey {
	return roleKey
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
