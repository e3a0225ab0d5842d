package chain

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "chain-secret-for-tests"

func strPtr(s string) *string { return &s }

func TestDerive_IsDeterministicForSameRandomness(t *testing.T) {
	r1 := bytes.NewReader(bytes.Repeat([]byte{0x01}, randomBytes))
	r2 := bytes.NewReader(bytes.Repeat([]byte{0x01}, randomBytes))

	a, err := Derive("seed", r1)
	require.NoError(t, err)
	b, err := Derive("seed", r2)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex encoded sha256")
}

func TestDerive_FailsOnShortRandomness(t *testing.T) {
	_, err := Derive("seed", bytes.NewReader([]byte{0x01, 0x02}))
	assert.Error(t, err)
}

func TestGuard_StateInitializesEnabledWithChain(t *testing.T) {
	g := NewGuard(NewMemoryStore(), testSecret)

	state, err := g.State(context.Background())
	require.NoError(t, err)

	assert.True(t, state.Enabled)
	require.NotNil(t, state.CurrentChain)
	assert.NotEmpty(t, *state.CurrentChain)

	again, err := g.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *state.CurrentChain, *again.CurrentChain, "reads must not rotate")
}

func TestGuard_TryConsume_RotatesOnSuccess(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	current, err := g.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)

	ok, err := g.TryConsume(ctx, strPtr(*current))
	require.NoError(t, err)
	assert.True(t, ok)

	next, err := g.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, *current, *next)

	// replay of the consumed value fails
	ok, err = g.TryConsume(ctx, strPtr(*current))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuard_TryConsume_RejectsMismatchAndNil(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	before, err := g.Current(ctx)
	require.NoError(t, err)

	ok, err := g.TryConsume(ctx, strPtr("not-the-chain"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.TryConsume(ctx, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := g.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, *before, *after, "failed verification must not rotate")
}

func TestGuard_TryConsume_PassThroughWhenDisabled(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	state, err := g.SetEnabled(ctx, false)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Nil(t, state.CurrentChain)

	ok, err := g.TryConsume(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryConsume(ctx, strPtr("anything"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGuard_ConcurrentConsumeOfSameToken_ExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	current, err := g.Current(ctx)
	require.NoError(t, err)

	const callers = 32
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := g.TryConsume(ctx, strPtr(*current))
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	after, err := g.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, *current, *after)
}

func TestGuard_TwoProcessesSharingStore_ExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := NewGuard(store, testSecret)
	b := NewGuard(store, testSecret)

	current, err := a.Current(ctx)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for _, g := range []*Guard{a, b, a, b} {
		wg.Add(1)
		go func(g *Guard) {
			defer wg.Done()
			if ok, err := g.TryConsume(ctx, strPtr(*current)); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestGuard_ReEnableIssuesFreshChain(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	seen := map[string]bool{}
	first, err := g.Current(ctx)
	require.NoError(t, err)
	seen[*first] = true

	for i := 0; i < 10; i++ {
		_, err := g.SetEnabled(ctx, false)
		require.NoError(t, err)

		state, err := g.SetEnabled(ctx, true)
		require.NoError(t, err)
		require.NotNil(t, state.CurrentChain)
		assert.False(t, seen[*state.CurrentChain], "chain value reissued")
		seen[*state.CurrentChain] = true
	}
}

func TestGuard_Rotate(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(NewMemoryStore(), testSecret)

	before, err := g.Current(ctx)
	require.NoError(t, err)

	state, err := g.Rotate(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.CurrentChain)
	assert.NotEqual(t, *before, *state.CurrentChain)

	_, err = g.SetEnabled(ctx, false)
	require.NoError(t, err)
	state, err = g.Rotate(ctx)
	require.NoError(t, err)
	assert.Nil(t, state.CurrentChain, "rotate is a no-op while disabled")
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Get(ctx context.Context) (*models.SecurityState, error) {
	return nil, errors.New("connection refused")
}

func TestGuard_PropagatesStoreErrors(t *testing.T) {
	g := NewGuard(&failingStore{}, testSecret)

	_, err := g.TryConsume(context.Background(), strPtr("x"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}
