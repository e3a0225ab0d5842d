package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityStateRepository persists the singleton security_state row so every
// process observes the same enable flag and chain value.
type SecurityStateRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityStateRepository(db *database.DB) *SecurityStateRepository {
	return &SecurityStateRepository{pool: db.Pool}
}

func (r *SecurityStateRepository) Get(ctx context.Context) (*models.SecurityState, error) {
	query := `SELECT enabled, current_chain, updated_at FROM security_state WHERE id = 1`

	var state models.SecurityState
	err := r.pool.QueryRow(ctx, query).Scan(&state.Enabled, &state.CurrentChain, &state.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &state, nil
}

// Initialize inserts the row unless another process got there first, then
// returns whichever row won.
func (r *SecurityStateRepository) Initialize(ctx context.Context, state models.SecurityState) (*models.SecurityState, error) {
	query := `
		INSERT INTO security_state (id, enabled, current_chain, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, state.Enabled, state.CurrentChain, state.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to initialize security state: %w", database.MapPostgresError(err))
	}
	return r.Get(ctx)
}

// SwapChain replaces the chain only if it still equals expected
func (r *SecurityStateRepository) SwapChain(ctx context.Context, expected, next string) (bool, error) {
	query := `
		UPDATE security_state
		SET current_chain = $2, updated_at = NOW()
		WHERE id = 1 AND enabled AND current_chain = $1
	`

	result, err := r.pool.Exec(ctx, query, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to rotate chain: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected() == 1, nil
}

func (r *SecurityStateRepository) Save(ctx context.Context, state models.SecurityState) error {
	query := `
		INSERT INTO security_state (id, enabled, current_chain, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET enabled = EXCLUDED.enabled, current_chain = EXCLUDED.current_chain, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, state.Enabled, state.CurrentChain, state.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save security state: %w", database.MapPostgresError(err))
	}
	return nil
}
