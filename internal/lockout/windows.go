// Package lockout holds the per-account failure windows. The windows are a
// process-local cache: losing them resets account throttling only, the
// durable IP ledger is unaffected. Processes do not share windows.
package lockout

import (
	"sync"
	"time"
)

// Windows tracks recent failure instants per account
type Windows struct {
	mu       sync.Mutex
	window   time.Duration
	failures map[string][]time.Time
	now      func() time.Time
}

func NewWindows(window time.Duration) *Windows {
	return &Windows{
		window:   window,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// SetClock replaces the time source (tests)
func (w *Windows) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Window returns the configured trailing interval
func (w *Windows) Window() time.Duration {
	return w.window
}

// RecordFailure prunes the account's window, appends now and trims the list
// to limit entries. Returns the entry count after recording.
func (w *Windows) RecordFailure(accountID string, limit int) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	attempts := append(w.prune(accountID, now), now)
	if limit > 0 && len(attempts) > limit {
		attempts = append([]time.Time(nil), attempts[len(attempts)-limit:]...)
	}
	w.failures[accountID] = attempts
	return len(attempts)
}

// IsLimited reports whether the account has reached limit failures inside
// the window.
func (w *Windows) IsLimited(accountID string, limit int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.prune(accountID, w.now())) >= limit
}

// Count returns the in-window failure count for an account
func (w *Windows) Count(accountID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.prune(accountID, w.now()))
}

// Reset forgets an account's failures, e.g. after a successful login
func (w *Windows) Reset(accountID string) {
	w.mu.Lock()
	delete(w.failures, accountID)
	w.mu.Unlock()
}

// Sweep drops accounts whose entries have all aged out. Returns how many
// accounts were evicted.
func (w *Windows) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	evicted := 0
	for accountID := range w.failures {
		if len(w.prune(accountID, now)) == 0 {
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked accounts
func (w *Windows) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.failures)
}

// prune must be called with mu held. Entries at exactly now-window are kept.
func (w *Windows) prune(accountID string, now time.Time) []time.Time {
	attempts, ok := w.failures[accountID]
	if !ok {
		return nil
	}

	cutoff := now.Add(-w.window)
	kept := attempts[:0]
	for _, t := range attempts {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) == 0 {
		delete(w.failures, accountID)
		return nil
	}
	w.failures[accountID] = kept
	return kept
}
