package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type stubValidator struct{}

func (stubValidator) ValidateSession(ctx context.Context, token string) (*models.TokenClaims, error) {
	if token == "good-token" {
		return &models.TokenClaims{Type: "access", AccountID: "acct-1", Username: "alice"}, nil
	}
	return nil, errors.New("invalid token")
}

type stubCounter struct {
	mu      sync.Mutex
	count   int
	err     error
	blocked []string
	asked   []string
}

func (s *stubCounter) RecentFailures(ctx context.Context, clientIP string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, clientIP)
	return s.count, s.err
}

func (s *stubCounter) RecordBlocked(ctx context.Context, clientIP, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, clientIP+"|"+detail)
}

type stubScorer struct {
	inputs []models.ScoreInput
}

func (s *stubScorer) Score(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error) {
	s.inputs = append(s.inputs, in)
	return models.ScoreResult{Status: models.ScoreStatusOK, FailsLastWindow: len(s.inputs)}, nil
}

type stubVerifier struct {
	err error
}

func (s stubVerifier) VerifyPassword(ctx context.Context, accountID, password string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return accountID == "acct-1" && password == "Correct-horse-42", nil
}

func (s stubVerifier) AccountFailLimit(ctx context.Context, accountID string) int {
	if accountID == "acct-1" {
		return 2
	}
	return 0
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func riskConfig(mode models.DegradedMode) RiskGateConfig {
	return RiskGateConfig{
		FailLimit: 5,
		Mode:      mode,
		SkipPaths: []string{"/health", "/login"},
	}
}

func serve(h http.Handler, method, path string, mutate func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.9:41000"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRiskGate(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		err         error
		mode        models.DegradedMode
		method      string
		path        string
		mutate      func(r *http.Request)
		wantStatus  int
		wantBlocked bool
	}{
		{name: "below limit passes", count: 4, method: http.MethodGet, path: "/api/things", wantStatus: http.StatusOK},
		{name: "at limit denied", count: 5, method: http.MethodGet, path: "/api/things", wantStatus: http.StatusForbidden, wantBlocked: true},
		{name: "above limit denied", count: 9, method: http.MethodPost, path: "/api/things", wantStatus: http.StatusForbidden, wantBlocked: true},
		{name: "options skipped", count: 9, method: http.MethodOptions, path: "/api/things", wantStatus: http.StatusOK},
		{name: "allow-listed path skipped", count: 9, method: http.MethodPost, path: "/login", wantStatus: http.StatusOK},
		{name: "allow-listed path with trailing slash", count: 9, method: http.MethodGet, path: "/health/", wantStatus: http.StatusOK},
		{
			name: "valid session skipped", count: 9, method: http.MethodGet, path: "/api/things",
			mutate:     func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			wantStatus: http.StatusOK,
		},
		{
			name: "invalid session still checked", count: 9, method: http.MethodGet, path: "/api/things",
			mutate:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer forged") },
			wantStatus:  http.StatusForbidden,
			wantBlocked: true,
		},
		{
			name: "no client ip passes", count: 9, method: http.MethodGet, path: "/api/things",
			mutate:     func(r *http.Request) { r.RemoteAddr = "" },
			wantStatus: http.StatusOK,
		},
		{name: "ledger down fail open", err: errors.New("db down"), mode: models.DegradedModeOpen, method: http.MethodGet, path: "/api/things", wantStatus: http.StatusOK},
		{name: "ledger down fail closed", err: errors.New("db down"), mode: models.DegradedModeClosed, method: http.MethodGet, path: "/api/things", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := &stubCounter{count: tt.count, err: tt.err}
			gate := RiskGate(riskConfig(tt.mode), counter, stubValidator{}, nil, nil, testLogger())

			rec := serve(gate(okHandler), tt.method, tt.path, tt.mutate)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBlocked {
				require.Len(t, counter.blocked, 1)
				assert.Equal(t, "203.0.113.9|"+models.DetailDeniedRiskPolicy, counter.blocked[0])
				assert.Contains(t, rec.Body.String(), "Request denied by policy")
			} else {
				assert.Empty(t, counter.blocked)
			}
		})
	}
}

func TestRiskGate_UsesForwardedFor(t *testing.T) {
	counter := &stubCounter{}
	config := riskConfig(models.DegradedModeOpen)
	config.IP.TrustForwardedFor = true
	gate := RiskGate(config, counter, nil, nil, nil, testLogger())

	serve(gate(okHandler), http.MethodGet, "/api/things", func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "garbage, 198.51.100.7, 10.0.0.1")
	})

	require.Len(t, counter.asked, 1)
	assert.Equal(t, "198.51.100.7", counter.asked[0])
}

func TestRiskGate_CountsDenials(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	gate := RiskGate(riskConfig(models.DegradedModeOpen), &stubCounter{count: 5}, nil, m, nil, testLogger())

	serve(gate(okHandler), http.MethodGet, "/api/things", nil)
	serve(gate(okHandler), http.MethodGet, "/api/things", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDenials.WithLabelValues(metrics.GateRisk)))
}

func reauthConfig() ReAuthConfig {
	return ReAuthConfig{
		Enabled:   true,
		Methods:   []string{"POST", "put", "DELETE"},
		SkipPaths: []string{"/login"},
	}
}

func TestReAuthGate(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		auth        string
		password    string
		wantStatus  int
		wantCode    string
		wantDetail  string
		wantAccount string
	}{
		{name: "safe method passes", method: http.MethodGet, path: "/api/things", wantStatus: http.StatusOK},
		{name: "skip path passes", method: http.MethodPost, path: "/login", wantStatus: http.StatusOK},
		{name: "missing session", method: http.MethodPost, path: "/api/things", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized", wantDetail: models.DetailReAuthUnauthorized},
		{name: "invalid session", method: http.MethodPut, path: "/api/things", auth: "Bearer forged", password: "Correct-horse-42", wantStatus: http.StatusUnauthorized, wantCode: "unauthorized", wantDetail: models.DetailReAuthUnauthorized},
		{name: "missing password", method: http.MethodPost, path: "/api/things", auth: "Bearer good-token", wantStatus: http.StatusUnauthorized, wantCode: "password_required", wantDetail: models.DetailReAuthPasswordNeeded, wantAccount: "acct-1"},
		{name: "wrong password", method: http.MethodDelete, path: "/api/things", auth: "Bearer good-token", password: "nope", wantStatus: http.StatusUnauthorized, wantCode: "invalid_credentials", wantDetail: models.DetailReAuthInvalid, wantAccount: "acct-1"},
		{name: "correct password", method: http.MethodPost, path: "/api/things", auth: "Bearer good-token", password: "Correct-horse-42", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &stubScorer{}
			gate := ReAuthGate(reauthConfig(), stubValidator{}, stubVerifier{}, scorer, nil, nil, testLogger())

			rec := serve(gate(okHandler), tt.method, tt.path, func(r *http.Request) {
				if tt.auth != "" {
					r.Header.Set("Authorization", tt.auth)
				}
				if tt.password != "" {
					r.Header.Set(ReAuthPasswordHeader, tt.password)
				}
			})

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantDetail == "" {
				assert.Empty(t, scorer.inputs)
				return
			}
			assert.Contains(t, rec.Body.String(), `"error":"`+tt.wantCode+`"`)
			require.Len(t, scorer.inputs, 1)
			in := scorer.inputs[0]
			assert.False(t, in.Success)
			assert.Equal(t, "203.0.113.9", in.ClientIP)
			assert.Equal(t, tt.wantDetail, in.Reason)
			assert.Equal(t, tt.wantAccount, in.AccountID)
			if tt.wantAccount != "" {
				// the account's own lockout limit, not the default
				assert.Equal(t, 2, in.AccountFailLimit)
			} else {
				assert.Zero(t, in.AccountFailLimit)
			}
		})
	}
}

func TestReAuthGate_Disabled(t *testing.T) {
	scorer := &stubScorer{}
	config := reauthConfig()
	config.Enabled = false
	gate := ReAuthGate(config, stubValidator{}, stubVerifier{}, scorer, nil, nil, testLogger())

	rec := serve(gate(okHandler), http.MethodPost, "/api/things", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, scorer.inputs)
}

func TestReAuthGate_VerifierError(t *testing.T) {
	scorer := &stubScorer{}
	gate := ReAuthGate(reauthConfig(), stubValidator{}, stubVerifier{err: errors.New("db down")}, scorer, nil, nil, testLogger())

	rec := serve(gate(okHandler), http.MethodPost, "/api/things", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer good-token")
		r.Header.Set(ReAuthPasswordHeader, "Correct-horse-42")
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, scorer.inputs)
}

func TestReAuthGate_RepeatedFailuresAreAllScored(t *testing.T) {
	scorer := &stubScorer{}
	gate := ReAuthGate(reauthConfig(), stubValidator{}, stubVerifier{}, scorer, nil, nil, testLogger())

	for i := 0; i < 3; i++ {
		serve(gate(okHandler), http.MethodPost, "/api/things", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer good-token")
			r.Header.Set(ReAuthPasswordHeader, "guess")
		})
	}
	assert.Len(t, scorer.inputs, 3)
}

func apiKeyConfig() APIKeyGateConfig {
	return APIKeyGateConfig{
		Key:       "gateway-key",
		SkipPaths: []string{"/ping", "/login"},
	}
}

func TestAPIKeyGate(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		key        string
		wantStatus int
		wantScored bool
	}{
		{name: "matching key passes", method: http.MethodGet, path: "/api/me", key: "gateway-key", wantStatus: http.StatusOK},
		{name: "missing key rejected", method: http.MethodGet, path: "/api/me", wantStatus: http.StatusUnauthorized, wantScored: true},
		{name: "wrong key rejected", method: http.MethodPost, path: "/score", key: "gateway-kez", wantStatus: http.StatusUnauthorized, wantScored: true},
		{name: "key prefix rejected", method: http.MethodGet, path: "/api/me", key: "gateway", wantStatus: http.StatusUnauthorized, wantScored: true},
		{name: "allow-listed path passes", method: http.MethodPost, path: "/login", wantStatus: http.StatusOK},
		{name: "allow-listed path with trailing slash", method: http.MethodGet, path: "/ping/", wantStatus: http.StatusOK},
		{name: "options passes", method: http.MethodOptions, path: "/api/me", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &stubScorer{}
			gate := APIKeyGate(apiKeyConfig(), scorer, nil, nil, testLogger())

			rec := serve(gate(okHandler), tt.method, tt.path, func(r *http.Request) {
				if tt.key != "" {
					r.Header.Set("X-API-Key", tt.key)
				}
			})

			assert.Equal(t, tt.wantStatus, rec.Code)
			if !tt.wantScored {
				assert.Empty(t, scorer.inputs)
				return
			}
			assert.Contains(t, rec.Body.String(), "Invalid API key")
			require.Len(t, scorer.inputs, 1)
			in := scorer.inputs[0]
			assert.False(t, in.Success)
			assert.Equal(t, "203.0.113.9", in.ClientIP)
			assert.Equal(t, models.DetailInvalidAPIKey, in.Reason)
			assert.Empty(t, in.AccountID)
		})
	}
}

func TestAPIKeyGate_DisabledWithoutKey(t *testing.T) {
	scorer := &stubScorer{}
	config := apiKeyConfig()
	config.Key = ""
	gate := APIKeyGate(config, scorer, nil, nil, testLogger())

	rec := serve(gate(okHandler), http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, scorer.inputs)
}

func TestAPIKeyGate_CountsDenials(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	gate := APIKeyGate(apiKeyConfig(), &stubScorer{}, m, nil, testLogger())

	serve(gate(okHandler), http.MethodGet, "/api/me", nil)
	serve(gate(okHandler), http.MethodGet, "/api/me", func(r *http.Request) { r.Header.Set("X-API-Key", "gateway-key") })

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDenials.WithLabelValues(metrics.GateAPIKey)))
}
