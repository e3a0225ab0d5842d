package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/BradenHooton/stuffguard/internal/lockout"
	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
)

// AttemptLedger is the durable, append-only store of failed and blocked
// attempts.
type AttemptLedger interface {
	Record(ctx context.Context, record *models.AttemptRecord) error
	CountSince(ctx context.Context, clientIP string, since time.Time) (int, error)
	List(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error)
}

// EnforcementState reports whether security enforcement is on
type EnforcementState interface {
	Enabled(ctx context.Context) (bool, error)
}

// ScoreConfig holds the IP blocking thresholds
type ScoreConfig struct {
	FailLimit  int
	FailWindow time.Duration
	Mode       models.DegradedMode
}

// ScoreService turns one authentication outcome into an ok/blocked decision.
// IP blocking is decided here from the ledger; account windows are only
// maintained here and are read through PolicyService.
type ScoreService struct {
	ledger   AttemptLedger
	security EnforcementState
	windows  *lockout.Windows
	metrics  *metrics.Metrics
	config   ScoreConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewScoreService(ledger AttemptLedger, security EnforcementState, windows *lockout.Windows, m *metrics.Metrics, config ScoreConfig, logger *slog.Logger) *ScoreService {
	if config.FailLimit < 1 {
		config.FailLimit = models.DefaultFailedAttemptsLimit
	}
	return &ScoreService{
		ledger:   ledger,
		security: security,
		windows:  windows,
		metrics:  m,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source (tests)
func (s *ScoreService) SetClock(now func() time.Time) {
	s.now = now
}

// Config returns the thresholds the service was built with
func (s *ScoreService) Config() ScoreConfig {
	return s.config
}

// Score records one observation and returns the decision. The decision is
// computed from ledger state before the new row is written; a failed write is
// logged and does not change the result.
func (s *ScoreService) Score(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error) {
	clientIP, err := normalizeIP(in.ClientIP)
	if err != nil {
		return models.ScoreResult{}, err
	}

	enabled, err := s.security.Enabled(ctx)
	if err != nil {
		s.metrics.ObserveDegraded("security_state", s.config.Mode.String())
		s.logger.Error("security state unavailable while scoring",
			slog.String("client_ip", clientIP),
			slog.String("mode", s.config.Mode.String()),
			slog.Any("error", err))
		if !s.config.Mode.AllowOnUnavailable() {
			return models.ScoreResult{Status: models.ScoreStatusBlocked}, nil
		}
		enabled = true
	}

	if !enabled {
		s.metrics.ObserveAttempt(metrics.OutcomeDisabled, in.UsedSessionCredential)
		return models.ScoreResult{Status: models.ScoreStatusOK}, nil
	}

	if in.Success {
		if in.AccountID != "" {
			s.windows.Reset(in.AccountID)
			s.metrics.SetAccountWindows(s.windows.Len())
		}
		s.metrics.ObserveAttempt(metrics.OutcomeSuccess, in.UsedSessionCredential)
		return models.ScoreResult{Status: models.ScoreStatusOK}, nil
	}

	return s.scoreFailure(ctx, clientIP, in)
}

func (s *ScoreService) scoreFailure(ctx context.Context, clientIP string, in models.ScoreInput) (models.ScoreResult, error) {
	now := s.now().UTC()

	ipFailCount, err := s.ledger.CountSince(ctx, clientIP, now.Add(-s.config.FailWindow))
	if err != nil {
		s.metrics.ObserveDegraded("ledger", s.config.Mode.String())
		s.logger.Error("attempt ledger unavailable while scoring",
			slog.String("client_ip", clientIP),
			slog.String("mode", s.config.Mode.String()),
			slog.Any("error", err))
		if !s.config.Mode.AllowOnUnavailable() {
			s.metrics.ObserveAttempt(metrics.OutcomeBlocked, in.UsedSessionCredential)
			return models.ScoreResult{Status: models.ScoreStatusBlocked}, nil
		}
		ipFailCount = 0
	}

	if in.AccountID != "" {
		limit := in.AccountFailLimit
		if limit < 1 {
			limit = models.DefaultFailedAttemptsLimit
		}
		s.windows.RecordFailure(in.AccountID, limit)
		s.metrics.SetAccountWindows(s.windows.Len())
	}

	failCount := ipFailCount + 1
	result := models.ScoreResult{Status: models.ScoreStatusOK, FailsLastWindow: failCount}
	detail := in.Reason
	if detail == "" {
		detail = models.DetailFailedLogin
	}

	if failCount >= s.config.FailLimit {
		result.Status = models.ScoreStatusBlocked
		detail = models.DetailBlockedTooMany
		if failCount == s.config.FailLimit {
			s.metrics.ObserveDetection()
			s.logger.Warn("credential stuffing threshold reached",
				slog.String("client_ip", clientIP),
				slog.Int("fails_last_window", failCount))
		}
		s.metrics.ObserveAttempt(metrics.OutcomeBlocked, in.UsedSessionCredential)
	} else {
		s.metrics.ObserveAttempt(metrics.OutcomeFailure, in.UsedSessionCredential)
	}

	s.write(ctx, &models.AttemptRecord{
		ClientIP:            clientIP,
		Timestamp:           now,
		CumulativeFailCount: failCount,
		Detail:              detail,
	})

	return result, nil
}

// RecordBlocked writes a ledger row for a rejection decided outside the
// scoring path (stale chain token, gate denial). Invalid IPs are ignored.
func (s *ScoreService) RecordBlocked(ctx context.Context, clientIP, detail string) {
	ip, err := normalizeIP(clientIP)
	if err != nil {
		return
	}

	now := s.now().UTC()
	count, err := s.ledger.CountSince(ctx, ip, now.Add(-s.config.FailWindow))
	if err != nil {
		s.logger.Error("attempt ledger unavailable", slog.String("client_ip", ip), slog.Any("error", err))
	}

	s.write(ctx, &models.AttemptRecord{
		ClientIP:            ip,
		Timestamp:           now,
		CumulativeFailCount: count + 1,
		Detail:              detail,
	})
}

// RecentFailures counts ledger rows for clientIP inside the fail window
func (s *ScoreService) RecentFailures(ctx context.Context, clientIP string) (int, error) {
	ip, err := normalizeIP(clientIP)
	if err != nil {
		return 0, err
	}
	return s.ledger.CountSince(ctx, ip, s.now().UTC().Add(-s.config.FailWindow))
}

// ListAttempts returns ledger rows newest first for operator review
func (s *ScoreService) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error) {
	ips := make([]string, 0, len(filter.ClientIPs))
	for _, raw := range filter.ClientIPs {
		ip, err := normalizeIP(raw)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	filter.ClientIPs = ips
	return s.ledger.List(ctx, filter)
}

func (s *ScoreService) write(ctx context.Context, record *models.AttemptRecord) {
	if err := s.ledger.Record(ctx, record); err != nil {
		s.logger.Error("failed to write attempt ledger",
			slog.String("client_ip", record.ClientIP),
			slog.String("detail", record.Detail),
			slog.Any("error", err))
	}
}

func normalizeIP(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: client_ip is required", models.ErrValidation)
	}
	ip := net.ParseIP(trimmed)
	if ip == nil {
		return "", fmt.Errorf("%w: client_ip %q is not an IP address", models.ErrValidation, trimmed)
	}
	return ip.String(), nil
}
