package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/stuffguard/internal/chain"
	"github.com/BradenHooton/stuffguard/internal/models"
)

// SecurityService is the system-wide enforcement switch. It owns the chain
// guard so that toggling and token rotation go through one place.
type SecurityService struct {
	guard  *chain.Guard
	logger *slog.Logger
}

func NewSecurityService(guard *chain.Guard, logger *slog.Logger) *SecurityService {
	return &SecurityService{guard: guard, logger: logger}
}

func (s *SecurityService) State(ctx context.Context) (models.SecurityState, error) {
	return s.guard.State(ctx)
}

func (s *SecurityService) Enabled(ctx context.Context) (bool, error) {
	state, err := s.guard.State(ctx)
	if err != nil {
		return false, err
	}
	return state.Enabled, nil
}

// CurrentToken returns the chain value to present next, nil when disabled
func (s *SecurityService) CurrentToken(ctx context.Context) (*string, error) {
	return s.guard.Current(ctx)
}

// VerifyAndRotate consumes presented. Returns ErrInvalidChainToken on any
// mismatch, including a nil token while enforcement is on.
func (s *SecurityService) VerifyAndRotate(ctx context.Context, presented *string) error {
	ok, err := s.guard.TryConsume(ctx, presented)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrInvalidChainToken
	}
	return nil
}

func (s *SecurityService) SetEnabled(ctx context.Context, enabled bool) (models.SecurityState, error) {
	state, err := s.guard.SetEnabled(ctx, enabled)
	if err != nil {
		return models.SecurityState{}, err
	}
	s.logger.Warn("security enforcement changed", slog.Bool("enabled", enabled))
	return state, nil
}

func (s *SecurityService) Rotate(ctx context.Context) (models.SecurityState, error) {
	return s.guard.Rotate(ctx)
}
