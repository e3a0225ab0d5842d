package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IP                pkghttp.IPConfig
}

// RateLimitByIP caps raw request volume per client IP. It sits in front of
// the login endpoints and is independent of the failure-based blocking.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	ipConfig := config.IP
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if ip := pkghttp.ExtractClientIP(r, &ipConfig); ip != "" {
				return ip, nil
			}
			return r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
		}),
	)
}
