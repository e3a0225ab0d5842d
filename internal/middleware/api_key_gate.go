package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
)

// APIKeyGateConfig holds the shared key and the paths reachable without it.
// An empty Key disables the gate.
type APIKeyGateConfig struct {
	Key       string
	SkipPaths []string
	IP        pkghttp.IPConfig
}

// APIKeyGate requires the X-API-Key header to match the configured key on
// every route outside SkipPaths. Each mismatch is scored as a failed attempt
// from the client IP.
func APIKeyGate(config APIKeyGateConfig, scorer AttemptScorer, m *metrics.Metrics, audit *pkglogger.AuditLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	skip := pathSet(config.SkipPaths)
	keyHash := auth.HashAPIKey(config.Key)

	return func(next http.Handler) http.Handler {
		if config.Key == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || skip.contains(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if auth.ConstantTimeHashCompare(auth.HashAPIKey(r.Header.Get(auth.APIKeyHeader)), keyHash) {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := pkghttp.ExtractClientIP(r, &config.IP)
			if _, err := scorer.Score(r.Context(), models.ScoreInput{
				ClientIP: clientIP,
				Success:  false,
				Reason:   models.DetailInvalidAPIKey,
			}); err != nil {
				logger.Warn("api key rejection not scored",
					slog.String("client_ip", clientIP),
					slog.Any("error", err))
			}
			m.ObserveGateDenial(metrics.GateAPIKey)
			audit.LogGateDenial(metrics.GateAPIKey, clientIP, r.URL.Path, "invalid_api_key")
			pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidAPIKey, "Invalid API key")
		})
	}
}
