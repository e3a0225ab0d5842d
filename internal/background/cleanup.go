package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WindowStore holds per-account failure windows that go stale once their
// newest failure leaves the window.
type WindowStore interface {
	Sweep() int
	Len() int
}

// WindowGauge reports how many accounts are being tracked
type WindowGauge interface {
	SetAccountWindows(n int)
}

// RevocationPurger drops revocation entries for credentials that have expired
type RevocationPurger interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupManager periodically evicts expired account failure windows and
// expired revocation entries
type CleanupManager struct {
	windows     WindowStore
	gauge       WindowGauge
	revocations RevocationPurger
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(windows WindowStore, gauge WindowGauge, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		windows:  windows,
		gauge:    gauge,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// SetRevocationPurger adds the revocation list to each sweep
func (cm *CleanupManager) SetRevocationPurger(p RevocationPurger) {
	cm.revocations = p
}

// Start runs the sweep loop until ctx is done or Stop is called
func (cm *CleanupManager) Start(ctx context.Context) {
	if cm.interval <= 0 {
		cm.logger.Info("account window sweeper disabled")
		return
	}

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("account window sweeper stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("account window sweeper context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	evicted := cm.windows.Sweep()
	tracked := cm.windows.Len()
	if cm.gauge != nil {
		cm.gauge.SetAccountWindows(tracked)
	}

	if evicted > 0 {
		cm.logger.Debug("account windows swept",
			slog.Int("evicted", evicted),
			slog.Int("tracked", tracked))
	}

	if cm.revocations == nil {
		return
	}
	purged, err := cm.revocations.CleanupExpiredTokens(ctx)
	if err != nil {
		cm.logger.Error("failed to purge expired revocations", slog.Any("error", err))
		return
	}
	if purged > 0 {
		cm.logger.Debug("expired revocations purged", slog.Int64("purged", purged))
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
