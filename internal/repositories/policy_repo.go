package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PolicyRepository struct {
	pool *pgxpool.Pool
}

func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{pool: db.Pool}
}

func scanPolicyRow(scanner rowScanner) (*models.Policy, error) {
	var policy models.Policy
	err := scanner.Scan(
		&policy.ID, &policy.FailedAttemptsLimit, &policy.MFARequired,
		&policy.GeoFencingEnabled, &policy.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &policy, nil
}

func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) (*models.Policy, error) {
	query := `
		INSERT INTO policies (failed_attempts_limit, mfa_required, geo_fencing_enabled)
		VALUES ($1, $2, $3)
		RETURNING id, failed_attempts_limit, mfa_required, geo_fencing_enabled, created_at
	`

	created, err := scanPolicyRow(r.pool.QueryRow(ctx, query,
		policy.FailedAttemptsLimit, policy.MFARequired, policy.GeoFencingEnabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}
	return created, nil
}

func (r *PolicyRepository) GetByID(ctx context.Context, id int64) (*models.Policy, error) {
	query := `
		SELECT id, failed_attempts_limit, mfa_required, geo_fencing_enabled, created_at
		FROM policies WHERE id = $1
	`
	return scanPolicyRow(r.pool.QueryRow(ctx, query, id))
}
