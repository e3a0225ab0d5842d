package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, username, password_hash, role, policy_id, totp_secret, totp_nonce, totp_last_used_at, created_at, updated_at`

type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	err := scanner.Scan(
		&account.ID, &account.Username, &account.PasswordHash, &account.Role, &account.PolicyID,
		&account.TOTPSecret, &account.TOTPNonce, &account.TOTPLastUsedAt,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if account.Role == "" {
		account.Role = models.RoleUser
	}

	query := `
		INSERT INTO accounts (username, password_hash, role, policy_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query,
		account.Username, account.PasswordHash, account.Role, account.PolicyID,
	))
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, username))
}

// AssignPolicy points an account at a policy. The policy row is share-locked
// in the same transaction as the update, so a missing or concurrently removed
// policy surfaces as ErrNotFound and the account is left unchanged.
func (r *AccountRepository) AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error) {
	var account *models.Account

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `SELECT id FROM policies WHERE id = $1 FOR SHARE`, policyID).Scan(&id); err != nil {
			return database.MapPostgresError(err)
		}

		query := `
			UPDATE accounts SET policy_id = $1, updated_at = NOW()
			WHERE username = $2
			RETURNING ` + accountColumns

		var err error
		account, err = scanAccountRow(tx.QueryRow(ctx, query, id, username))
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error {
	query := `
		UPDATE accounts SET totp_secret = $1, totp_nonce = $2, totp_last_used_at = NULL, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.pool.Exec(ctx, query, secret, nonce, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// TouchTOTP records the instant a code was accepted, used to refuse reuse of
// a code within the same step.
func (r *AccountRepository) TouchTOTP(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET totp_last_used_at = $1 WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, at.UTC(), id)
	return database.MapPostgresError(err)
}
