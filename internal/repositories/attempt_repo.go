package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const maxAttemptListLimit = 500

// AttemptRepository is the append-only ledger of failed and blocked attempts.
// Rows are never updated or deleted here.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{pool: db.Pool}
}

// Record appends one attempt row. A zero Timestamp is filled in by the database.
func (r *AttemptRepository) Record(ctx context.Context, record *models.AttemptRecord) error {
	query := `
		INSERT INTO attempts (client_ip, timestamp, cumulative_fail_count, detail)
		VALUES ($1, COALESCE($2, NOW()), $3, $4)
		RETURNING id, timestamp
	`

	var ts *time.Time
	if !record.Timestamp.IsZero() {
		t := record.Timestamp.UTC()
		ts = &t
	}

	err := r.pool.QueryRow(ctx, query,
		record.ClientIP,
		ts,
		record.CumulativeFailCount,
		record.Detail,
	).Scan(&record.ID, &record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountSince returns the number of rows for an IP with timestamp >= since
func (r *AttemptRepository) CountSince(ctx context.Context, clientIP string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM attempts
		WHERE client_ip = $1 AND timestamp >= $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, clientIP, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// List returns the newest attempts matching the filter
func (r *AttemptRepository) List(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxAttemptListLimit {
		limit = maxAttemptListLimit
	}

	query := `
		SELECT id, client_ip, timestamp, cumulative_fail_count, detail
		FROM attempts
		WHERE (cardinality($1::text[]) = 0 OR client_ip = ANY($1))
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		ORDER BY timestamp DESC, id DESC
		LIMIT $3
	`

	ips := filter.ClientIPs
	if ips == nil {
		ips = []string{}
	}

	rows, err := r.pool.Query(ctx, query, pq.Array(ips), filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	records := make([]*models.AttemptRecord, 0)
	for rows.Next() {
		var rec models.AttemptRecord
		if err := rows.Scan(&rec.ID, &rec.ClientIP, &rec.Timestamp, &rec.CumulativeFailCount, &rec.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}
