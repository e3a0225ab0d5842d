package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
)

// AttemptCounter is the ledger view the risk gate needs
type AttemptCounter interface {
	RecentFailures(ctx context.Context, clientIP string) (int, error)
	RecordBlocked(ctx context.Context, clientIP, detail string)
}

// RiskGateConfig holds risk gate configuration
type RiskGateConfig struct {
	FailLimit int
	Mode      models.DegradedMode
	SkipPaths []string
	IP        pkghttp.IPConfig
}

// RiskGate denies unauthenticated requests from IPs that already have
// FailLimit or more failures inside the window. Denials are written to the
// ledger so they count toward the block themselves.
func RiskGate(config RiskGateConfig, attempts AttemptCounter, tv auth.TokenValidator, m *metrics.Metrics, audit *pkglogger.AuditLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	skip := pathSet(config.SkipPaths)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || skip.contains(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if tv != nil && auth.SessionClaims(tv, r) != nil {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := pkghttp.ExtractClientIP(r, &config.IP)
			if clientIP == "" {
				next.ServeHTTP(w, r)
				return
			}

			count, err := attempts.RecentFailures(r.Context(), clientIP)
			if err != nil {
				m.ObserveDegraded("ledger", config.Mode.String())
				logger.Error("risk gate could not read attempt ledger",
					slog.String("client_ip", clientIP),
					slog.String("path", r.URL.Path),
					slog.String("mode", config.Mode.String()),
					slog.Any("error", err))
				if !config.Mode.AllowOnUnavailable() {
					pkghttp.WriteServiceUnavailable(w, "service temporarily unavailable")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if count >= config.FailLimit {
				attempts.RecordBlocked(r.Context(), clientIP, models.DetailDeniedRiskPolicy)
				m.ObserveGateDenial(metrics.GateRisk)
				audit.LogGateDenial(metrics.GateRisk, clientIP, r.URL.Path, "fail_limit_reached")
				pkghttp.WriteDenied(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type paths map[string]struct{}

func pathSet(list []string) paths {
	set := make(paths, len(list))
	for _, p := range list {
		set[normalizePath(p)] = struct{}{}
	}
	return set
}

func (p paths) contains(path string) bool {
	_, ok := p[normalizePath(path)]
	return ok
}

// normalizePath drops a trailing slash so "/health/" matches "/health"
func normalizePath(path string) string {
	if len(path) > 1 {
		return strings.TrimRight(path, "/")
	}
	return path
}
