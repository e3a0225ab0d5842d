package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// AccountContextKey is the key for storing session claims in context
	AccountContextKey contextKey = "account"
)

// TokenValidator is the session credential check shared by the auth
// middleware and the request gates. Revoked credentials fail validation.
type TokenValidator interface {
	ValidateSession(ctx context.Context, tokenString string) (*models.TokenClaims, error)
}

// AccountFetcher loads the current account record for role checks
type AccountFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// SessionClaims returns the claims of a valid, unrevoked bearer credential,
// nil if the request carries none.
func SessionClaims(tv TokenValidator, r *http.Request) *models.TokenClaims {
	tokenString, ok := BearerToken(r)
	if !ok {
		return nil
	}
	claims, err := tv.ValidateSession(r.Context(), tokenString)
	if err != nil {
		return nil
	}
	return claims
}

// AuthMiddleware validates JWT tokens and injects claims into context
func AuthMiddleware(tv TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := SessionClaims(tv, r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "invalid or missing session credential")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole creates a middleware that enforces role-based access control.
// The role is read from the account store, not the token, so demotions apply
// immediately.
func RequireRole(accounts AccountFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			account, err := accounts.GetByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "account not found")
					return
				}
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}

			if account.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims stores session claims in ctx
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, AccountContextKey, claims)
}

// GetClaimsFromContext extracts session claims from ctx
func GetClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, ok := ctx.Value(AccountContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
