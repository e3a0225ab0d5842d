package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/stuffguard/internal/lockout"
	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
)

// PolicyRepository defines the persistence operations for lockout policies
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) (*models.Policy, error)
	GetByID(ctx context.Context, id int64) (*models.Policy, error)
}

// PolicyAssigner links accounts to policies
type PolicyAssigner interface {
	AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error)
}

// PolicyService resolves per-account lockout policy and answers whether an
// account is currently locked.
type PolicyService struct {
	repo     PolicyRepository
	accounts PolicyAssigner
	windows  *lockout.Windows
	mode     models.DegradedMode
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewPolicyService(repo PolicyRepository, accounts PolicyAssigner, windows *lockout.Windows, mode models.DegradedMode, m *metrics.Metrics, logger *slog.Logger) *PolicyService {
	return &PolicyService{
		repo:     repo,
		accounts: accounts,
		windows:  windows,
		mode:     mode,
		metrics:  m,
		logger:   logger,
	}
}

// PolicyFor returns the account's assigned policy or the default one. When
// the store cannot be read, fail-open falls back to the default and
// fail-closed returns ErrPolicyStoreUnavailable.
func (s *PolicyService) PolicyFor(ctx context.Context, account *models.Account) (*models.Policy, error) {
	if account == nil || account.PolicyID == nil {
		return models.DefaultPolicy(), nil
	}

	policy, err := s.repo.GetByID(ctx, *account.PolicyID)
	if err == nil {
		return policy, nil
	}
	if errors.Is(err, models.ErrNotFound) {
		return models.DefaultPolicy(), nil
	}

	s.metrics.ObserveDegraded("policy_store", s.mode.String())
	s.logger.Error("policy store unavailable",
		slog.String("account_id", account.ID),
		slog.String("mode", s.mode.String()),
		slog.Any("error", err))

	if !s.mode.AllowOnUnavailable() {
		return nil, fmt.Errorf("%w: %v", models.ErrPolicyStoreUnavailable, err)
	}
	return models.DefaultPolicy(), nil
}

// IsAccountRateLimited reports whether the account's failure window holds at
// least limit entries. It must be checked before verifying credentials.
func (s *PolicyService) IsAccountRateLimited(accountID string, limit int) bool {
	if accountID == "" {
		return false
	}
	if limit < 1 {
		limit = models.DefaultFailedAttemptsLimit
	}
	return s.windows.IsLimited(accountID, limit)
}

func (s *PolicyService) CreatePolicy(ctx context.Context, failedAttemptsLimit int, mfaRequired, geoFencingEnabled bool) (*models.Policy, error) {
	if failedAttemptsLimit < 1 {
		return nil, fmt.Errorf("%w: failed_attempts_limit must be at least 1", models.ErrValidation)
	}

	policy, err := s.repo.Create(ctx, &models.Policy{
		FailedAttemptsLimit: failedAttemptsLimit,
		MFARequired:         mfaRequired,
		GeoFencingEnabled:   geoFencingEnabled,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("policy created",
		slog.Int64("policy_id", policy.ID),
		slog.Int("failed_attempts_limit", policy.FailedAttemptsLimit),
		slog.Bool("mfa_required", policy.MFARequired))
	return policy, nil
}

func (s *PolicyService) GetPolicy(ctx context.Context, id int64) (*models.Policy, error) {
	return s.repo.GetByID(ctx, id)
}

// AssignPolicy points username at policyID. Both must exist; the store checks
// the policy and updates the account atomically.
func (s *PolicyService) AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error) {
	account, err := s.accounts.AssignPolicy(ctx, username, policyID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("policy assigned",
		slog.String("account_id", account.ID),
		slog.Int64("policy_id", policyID))
	return account, nil
}
