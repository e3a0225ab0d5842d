//go:build integration

package repositories_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/stuffguard/internal/chain"
	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/BradenHooton/stuffguard/internal/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *database.DB

// TestMain starts one PostgreSQL container for the package and applies the
// embedded migrations to it
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("stuffguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer container.Terminate(ctx)

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
			return 1
		}

		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create connection pool: %v\n", err)
			return 1
		}

		testDB = database.NewFromPool(pool, slog.New(slog.NewJSONHandler(io.Discard, nil)))
		defer testDB.Close()

		if err := testDB.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
			return 1
		}

		return m.Run()
	}()

	os.Exit(code)
}

// cleanupTables truncates all tables for test isolation
func cleanupTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"attempts", "revoked_tokens", "accounts", "policies", "security_state"} {
		_, err := testDB.Pool.Exec(context.Background(), fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err)
	}
}

func TestAttemptRepository_CountSinceIsInclusive(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := repositories.NewAttemptRepository(testDB)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 30 * time.Second, 60 * time.Second} {
		require.NoError(t, repo.Record(ctx, &models.AttemptRecord{
			ClientIP:            "198.51.100.7",
			Timestamp:           base.Add(offset),
			CumulativeFailCount: 1,
			Detail:              models.DetailFailedLogin,
		}))
	}
	require.NoError(t, repo.Record(ctx, &models.AttemptRecord{
		ClientIP:  "198.51.100.8",
		Timestamp: base.Add(60 * time.Second),
		Detail:    models.DetailFailedLogin,
	}))

	count, err := repo.CountSince(ctx, "198.51.100.7", base)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountSince(ctx, "198.51.100.7", base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountSince(ctx, "203.0.113.1", base)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAttemptRepository_RecordFillsTimestamp(t *testing.T) {
	cleanupTables(t)
	repo := repositories.NewAttemptRepository(testDB)

	rec := &models.AttemptRecord{ClientIP: "198.51.100.7", Detail: models.DetailBlockedTooMany, CumulativeFailCount: 5}
	require.NoError(t, repo.Record(context.Background(), rec))

	assert.NotZero(t, rec.ID)
	assert.WithinDuration(t, time.Now(), rec.Timestamp, time.Minute)
}

func TestAttemptRepository_List(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	repo := repositories.NewAttemptRepository(testDB)

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, ip := range []string{"198.51.100.7", "198.51.100.8", "198.51.100.7", "203.0.113.1"} {
		require.NoError(t, repo.Record(ctx, &models.AttemptRecord{
			ClientIP:            ip,
			Timestamp:           base.Add(time.Duration(i) * time.Second),
			CumulativeFailCount: i + 1,
			Detail:              models.DetailFailedLogin,
		}))
	}

	all, err := repo.List(ctx, models.AttemptFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "203.0.113.1", all[0].ClientIP)

	filtered, err := repo.List(ctx, models.AttemptFilter{ClientIPs: []string{"198.51.100.7", "198.51.100.8"}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, 3, filtered[0].CumulativeFailCount)
	assert.Equal(t, 2, filtered[1].CumulativeFailCount)

	since := base.Add(2 * time.Second)
	recent, err := repo.List(ctx, models.AttemptFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestAccountRepository_PolicyAssignment(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	accounts := repositories.NewAccountRepository(testDB)
	policies := repositories.NewPolicyRepository(testDB)

	account, err := accounts.Create(ctx, &models.Account{Username: "alice", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, account.Role)
	assert.Nil(t, account.PolicyID)

	_, err = accounts.Create(ctx, &models.Account{Username: "alice", PasswordHash: "hash"})
	assert.ErrorIs(t, err, models.ErrConflict)

	policy, err := policies.Create(ctx, &models.Policy{FailedAttemptsLimit: 3, MFARequired: true})
	require.NoError(t, err)

	updated, err := accounts.AssignPolicy(ctx, "alice", policy.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.PolicyID)
	assert.Equal(t, policy.ID, *updated.PolicyID)

	_, err = accounts.AssignPolicy(ctx, "nobody", policy.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// unknown policy rolls back and leaves the current assignment
	_, err = accounts.AssignPolicy(ctx, "alice", policy.ID+100)
	assert.ErrorIs(t, err, models.ErrNotFound)
	current, err := accounts.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, current.PolicyID)
	assert.Equal(t, policy.ID, *current.PolicyID)

	fetched, err := policies.GetByID(ctx, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, fetched.FailedAttemptsLimit)
	assert.True(t, fetched.MFARequired)

	_, err = policies.GetByID(ctx, policy.ID+100)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAccountRepository_TOTPSecret(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	accounts := repositories.NewAccountRepository(testDB)

	account, err := accounts.Create(ctx, &models.Account{Username: "bob", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.False(t, account.MFAEnrolled())

	require.NoError(t, accounts.SetTOTPSecret(ctx, account.ID, []byte("secret"), []byte("nonce")))
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, accounts.TouchTOTP(ctx, account.ID, now))

	fetched, err := accounts.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, fetched.MFAEnrolled())
	require.NotNil(t, fetched.TOTPLastUsedAt)
	assert.True(t, now.Equal(*fetched.TOTPLastUsedAt))
}

func TestTokenRevocationRepository(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	accounts := repositories.NewAccountRepository(testDB)
	revocations := repositories.NewTokenRevocationRepository(testDB)

	account, err := accounts.Create(ctx, &models.Account{Username: "dave", PasswordHash: "hash"})
	require.NoError(t, err)

	revoked, err := revocations.IsTokenRevoked(ctx, "jti-live")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, revocations.RevokeToken(ctx, "jti-live", account.ID, time.Now().Add(time.Hour), "logout"))
	require.NoError(t, revocations.RevokeToken(ctx, "jti-live", account.ID, time.Now().Add(time.Hour), "logout"))
	require.NoError(t, revocations.RevokeToken(ctx, "jti-old", account.ID, time.Now().Add(-time.Minute), "logout"))

	revoked, err = revocations.IsTokenRevoked(ctx, "jti-live")
	require.NoError(t, err)
	assert.True(t, revoked)

	removed, err := revocations.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	revoked, err = revocations.IsTokenRevoked(ctx, "jti-live")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestSecurityStateRepository_ConcurrentConsumeHasOneWinner(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()

	// two guards over the same row stand in for two gateway processes
	first := chain.NewGuard(repositories.NewSecurityStateRepository(testDB), "shared-secret")
	second := chain.NewGuard(repositories.NewSecurityStateRepository(testDB), "shared-secret")

	token, err := first.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, token)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		guard := first
		if i%2 == 1 {
			guard = second
		}
		wg.Add(1)
		go func(i int, g *chain.Guard) {
			defer wg.Done()
			ok, err := g.TryConsume(ctx, token)
			assert.NoError(t, err)
			results[i] = ok
		}(i, guard)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	next, err := second.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, *token, *next)
}

func TestSecurityStateRepository_DisableClearsChain(t *testing.T) {
	cleanupTables(t)
	ctx := context.Background()
	guard := chain.NewGuard(repositories.NewSecurityStateRepository(testDB), "shared-secret")

	state, err := guard.SetEnabled(ctx, false)
	require.NoError(t, err)
	assert.False(t, state.Enabled)
	assert.Nil(t, state.CurrentChain)

	stored, err := repositories.NewSecurityStateRepository(testDB).Get(ctx)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Nil(t, stored.CurrentChain)
}
