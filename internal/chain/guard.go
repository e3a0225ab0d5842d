// Package chain implements the rotating one-time token that gates the
// scoring ingress. A token is accepted at most once: a successful
// verification replaces it with a value derived from the old one plus fresh
// randomness.
package chain

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
)

// randomBytes is the amount of fresh entropy mixed into every derivation
const randomBytes = 16

// StateStore persists the singleton security state. SwapChain must be an
// atomic compare-and-swap so that processes sharing the store agree on
// which caller consumed a token.
type StateStore interface {
	Get(ctx context.Context) (*models.SecurityState, error)
	Initialize(ctx context.Context, state models.SecurityState) (*models.SecurityState, error)
	SwapChain(ctx context.Context, expected, next string) (bool, error)
	Save(ctx context.Context, state models.SecurityState) error
}

// Derive returns hex(SHA256(seed || hex(random))).
func Derive(seed string, random io.Reader) (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to read chain randomness: %w", err)
	}
	sum := sha256.Sum256([]byte(seed + hex.EncodeToString(buf)))
	return hex.EncodeToString(sum[:]), nil
}

// Guard serializes verify-then-rotate within the process; the store's
// compare-and-swap covers other processes.
type Guard struct {
	store  StateStore
	secret string
	random io.Reader
	now    func() time.Time
	mu     sync.Mutex
}

// NewGuard creates a Guard. secret seeds the chain whenever there is no
// previous token to derive from.
func NewGuard(store StateStore, secret string) *Guard {
	return &Guard{
		store:  store,
		secret: secret,
		random: rand.Reader,
		now:    time.Now,
	}
}

// SetRandom replaces the entropy source (tests)
func (g *Guard) SetRandom(r io.Reader) {
	g.random = r
}

// State returns the current security state, creating it on first read with
// enforcement on and a fresh chain.
func (g *Guard) State(ctx context.Context) (models.SecurityState, error) {
	state, err := g.store.Get(ctx)
	if err == nil {
		return state.Clone(), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.SecurityState{}, err
	}

	chain, err := Derive(g.secret, g.random)
	if err != nil {
		return models.SecurityState{}, err
	}
	state, err = g.store.Initialize(ctx, models.SecurityState{
		Enabled:      true,
		CurrentChain: &chain,
		UpdatedAt:    g.now().UTC(),
	})
	if err != nil {
		return models.SecurityState{}, err
	}
	return state.Clone(), nil
}

// Current returns the chain value a caller must present next, nil when
// enforcement is off.
func (g *Guard) Current(ctx context.Context) (*string, error) {
	state, err := g.State(ctx)
	if err != nil {
		return nil, err
	}
	return state.CurrentChain, nil
}

// TryConsume checks presented against the current chain and rotates it on a
// match. While enforcement is off every call passes through untouched.
func (g *Guard) TryConsume(ctx context.Context, presented *string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	if !state.Enabled {
		return true, nil
	}
	if presented == nil || state.CurrentChain == nil {
		return false, nil
	}

	current := *state.CurrentChain
	if subtle.ConstantTimeCompare([]byte(*presented), []byte(current)) != 1 {
		return false, nil
	}

	next, err := Derive(current, g.random)
	if err != nil {
		return false, err
	}
	return g.store.SwapChain(ctx, current, next)
}

// Rotate advances the chain without a presented token. It is a no-op while
// enforcement is off.
func (g *Guard) Rotate(ctx context.Context) (models.SecurityState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.State(ctx)
	if err != nil {
		return models.SecurityState{}, err
	}
	if !state.Enabled || state.CurrentChain == nil {
		return state, nil
	}

	next, err := Derive(*state.CurrentChain, g.random)
	if err != nil {
		return models.SecurityState{}, err
	}
	if _, err := g.store.SwapChain(ctx, *state.CurrentChain, next); err != nil {
		return models.SecurityState{}, err
	}
	// Lost races still leave a rotated chain, just not ours
	return g.State(ctx)
}

// SetEnabled flips enforcement. Enabling always issues a fresh chain seeded
// from the secret; disabling clears it.
func (g *Guard) SetEnabled(ctx context.Context, enabled bool) (models.SecurityState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Make sure the singleton exists before overwriting it
	if _, err := g.State(ctx); err != nil {
		return models.SecurityState{}, err
	}

	state := models.SecurityState{Enabled: enabled, UpdatedAt: g.now().UTC()}
	if enabled {
		chain, err := Derive(g.secret, g.random)
		if err != nil {
			return models.SecurityState{}, err
		}
		state.CurrentChain = &chain
	}

	if err := g.store.Save(ctx, state); err != nil {
		return models.SecurityState{}, err
	}
	return state.Clone(), nil
}
