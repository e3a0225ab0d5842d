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

// ReAuthPasswordHeader carries the step-up password on mutating requests
const ReAuthPasswordHeader = "X-Reauth-Password"

// AttemptScorer feeds rejected step-up attempts into the scorer
type AttemptScorer interface {
	Score(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error)
}

// CredentialVerifier checks a password against the account behind a session
// and resolves that account's lockout limit.
type CredentialVerifier interface {
	VerifyPassword(ctx context.Context, accountID, password string) (bool, error)
	AccountFailLimit(ctx context.Context, accountID string) int
}

// ReAuthConfig holds step-up configuration
type ReAuthConfig struct {
	Enabled   bool
	Methods   []string
	SkipPaths []string
	IP        pkghttp.IPConfig
}

// ReAuthGate requires a valid session and the account password on every
// request whose method is in Methods. Each rejection is scored as a failure.
func ReAuthGate(config ReAuthConfig, tv auth.TokenValidator, verifier CredentialVerifier, scorer AttemptScorer, m *metrics.Metrics, audit *pkglogger.AuditLogger, logger *slog.Logger) func(http.Handler) http.Handler {
	methods := make(map[string]struct{}, len(config.Methods))
	for _, method := range config.Methods {
		methods[strings.ToUpper(method)] = struct{}{}
	}
	skip := pathSet(config.SkipPaths)

	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := methods[r.Method]; !ok || skip.contains(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			reject := func(accountID, detail, code, message string) {
				clientIP := pkghttp.ExtractClientIP(r, &config.IP)
				in := models.ScoreInput{
					ClientIP:              clientIP,
					Success:               false,
					AccountID:             accountID,
					UsedSessionCredential: accountID != "",
					Reason:                detail,
				}
				if accountID != "" {
					in.AccountFailLimit = verifier.AccountFailLimit(r.Context(), accountID)
				}
				if _, err := scorer.Score(r.Context(), in); err != nil {
					logger.Warn("re-auth rejection not scored",
						slog.String("client_ip", clientIP),
						slog.Any("error", err))
				}
				m.ObserveGateDenial(metrics.GateReAuth)
				audit.LogGateDenial(metrics.GateReAuth, clientIP, r.URL.Path, code)
				pkghttp.WriteError(w, http.StatusUnauthorized, code, message)
			}

			claims := auth.SessionClaims(tv, r)
			if claims == nil {
				reject("", models.DetailReAuthUnauthorized, pkghttp.CodeUnauthorized, "valid session credential required")
				return
			}

			password := r.Header.Get(ReAuthPasswordHeader)
			if password == "" {
				reject(claims.AccountID, models.DetailReAuthPasswordNeeded, pkghttp.CodePasswordRequired, "password confirmation required")
				return
			}

			ok, err := verifier.VerifyPassword(r.Context(), claims.AccountID, password)
			if err != nil {
				logger.Error("re-auth credential check failed",
					slog.String("account_id", claims.AccountID),
					slog.Any("error", err))
				pkghttp.WriteInternalError(w, "internal server error")
				return
			}
			if !ok {
				reject(claims.AccountID, models.DetailReAuthInvalid, pkghttp.CodeInvalidCredentials, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
