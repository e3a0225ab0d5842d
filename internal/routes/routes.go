package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/handlers"
	"github.com/BradenHooton/stuffguard/internal/middleware"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies carries everything RegisterRoutes wires together
type Dependencies struct {
	Score    *handlers.ScoreHandler
	Security *handlers.SecurityHandler
	Policy   *handlers.PolicyHandler
	Auth     *handlers.AuthHandler
	Attempts *handlers.AttemptsHandler

	Tokens   auth.TokenValidator
	Accounts auth.AccountFetcher
	Health   HealthChecker
	Metrics  http.Handler

	// Gates run on every route in this order; each skips its own allow-list.
	APIKeyGate func(http.Handler) http.Handler
	RiskGate   func(http.Handler) http.Handler
	ReAuthGate func(http.Handler) http.Handler
	LoginLimit middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes. It must be called before
// any route is added to router.
func RegisterRoutes(router chi.Router, deps Dependencies) {
	if deps.APIKeyGate != nil {
		router.Use(deps.APIKeyGate)
	}
	if deps.RiskGate != nil {
		router.Use(deps.RiskGate)
	}
	if deps.ReAuthGate != nil {
		router.Use(deps.ReAuthGate)
	}

	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/health", healthHandler(deps.Health))
	router.Get("/healthz", healthHandler(deps.Health))
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// Scoring ingress, guarded by the chain token rather than a session
	router.Post("/score", deps.Score.Score)

	loginLimit := middleware.RateLimitByIP(deps.LoginLimit)
	router.With(loginLimit).Post("/login", deps.Auth.Login)
	router.With(loginLimit).Post("/api/token", deps.Auth.Token)
	router.With(loginLimit).Post("/register", deps.Auth.Register)

	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.Tokens))

		r.Post("/logout", deps.Auth.Logout)
		r.Get("/api/me", deps.Auth.Me)
		r.Post("/api/me/mfa/enroll", deps.Auth.EnrollMFA)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Accounts, models.RoleAdmin))

			r.Get("/api/security", deps.Security.Get)
			r.Post("/api/security", deps.Security.Set)
			r.Get("/api/security/chain", deps.Security.Chain)
			r.Post("/api/security/chain/rotate", deps.Security.Rotate)

			r.Post("/api/policies", deps.Policy.Create)
			r.Get("/api/policies/{id}", deps.Policy.Get)
			r.Post("/api/accounts/{username}/policy/{policyID}", deps.Policy.Assign)

			r.Get("/api/attempts", deps.Attempts.List)
		})
	})
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := checker.HealthCheck(ctx); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}
