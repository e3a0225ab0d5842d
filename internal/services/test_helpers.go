package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/models"
)

// MockAttemptLedger implements AttemptLedger for testing
type MockAttemptLedger struct {
	RecordFunc     func(ctx context.Context, record *models.AttemptRecord) error
	CountSinceFunc func(ctx context.Context, clientIP string, since time.Time) (int, error)
	ListFunc       func(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error)
}

func (m *MockAttemptLedger) Record(ctx context.Context, record *models.AttemptRecord) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, record)
	}
	return nil
}

func (m *MockAttemptLedger) CountSince(ctx context.Context, clientIP string, since time.Time) (int, error) {
	if m.CountSinceFunc != nil {
		return m.CountSinceFunc(ctx, clientIP, since)
	}
	return 0, nil
}

func (m *MockAttemptLedger) List(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return []*models.AttemptRecord{}, nil
}

// MemoryLedger is an in-process AttemptLedger with the same windowed count
// semantics as the database one.
type MemoryLedger struct {
	mu      sync.Mutex
	records []*models.AttemptRecord
}

func (l *MemoryLedger) Record(ctx context.Context, record *models.AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := *record
	copied.ID = int64(len(l.records) + 1)
	record.ID = copied.ID
	l.records = append(l.records, &copied)
	return nil
}

func (l *MemoryLedger) CountSince(ctx context.Context, clientIP string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, r := range l.records {
		if r.ClientIP == clientIP && !r.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) List(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*models.AttemptRecord, 0)
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if len(filter.ClientIPs) > 0 && !contains(filter.ClientIPs, r.ClientIP) {
			continue
		}
		if filter.Since != nil && r.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Records returns a snapshot of everything written
func (l *MemoryLedger) Records() []models.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.AttemptRecord, len(l.records))
	for i, r := range l.records {
		out[i] = *r
	}
	return out
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// MockEnforcementState implements EnforcementState for testing
type MockEnforcementState struct {
	EnabledFunc func(ctx context.Context) (bool, error)
}

func (m *MockEnforcementState) Enabled(ctx context.Context) (bool, error) {
	if m.EnabledFunc != nil {
		return m.EnabledFunc(ctx)
	}
	return true, nil
}

// MockPolicyRepository implements PolicyRepository for testing
type MockPolicyRepository struct {
	CreateFunc  func(ctx context.Context, policy *models.Policy) (*models.Policy, error)
	GetByIDFunc func(ctx context.Context, id int64) (*models.Policy, error)
}

func (m *MockPolicyRepository) Create(ctx context.Context, policy *models.Policy) (*models.Policy, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, policy)
	}
	created := *policy
	created.ID = 1
	return &created, nil
}

func (m *MockPolicyRepository) GetByID(ctx context.Context, id int64) (*models.Policy, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockAccountRepository implements AccountRepository and PolicyAssigner for testing
type MockAccountRepository struct {
	CreateFunc        func(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByIDFunc       func(ctx context.Context, id string) (*models.Account, error)
	GetByUsernameFunc func(ctx context.Context, username string) (*models.Account, error)
	AssignPolicyFunc  func(ctx context.Context, username string, policyID int64) (*models.Account, error)
	SetTOTPSecretFunc func(ctx context.Context, id string, secret, nonce []byte) error
	TouchTOTPFunc     func(ctx context.Context, id string, at time.Time) error
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	created := *account
	created.ID = "acct-new"
	return &created, nil
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error) {
	if m.AssignPolicyFunc != nil {
		return m.AssignPolicyFunc(ctx, username, policyID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error {
	if m.SetTOTPSecretFunc != nil {
		return m.SetTOTPSecretFunc(ctx, id, secret, nonce)
	}
	return nil
}

func (m *MockAccountRepository) TouchTOTP(ctx context.Context, id string, at time.Time) error {
	if m.TouchTOTPFunc != nil {
		return m.TouchTOTPFunc(ctx, id, at)
	}
	return nil
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	GenerateAccessTokenFunc func(account *models.Account) (string, error)
}

func (m *MockTokenIssuer) GenerateAccessToken(account *models.Account) (string, error) {
	if m.GenerateAccessTokenFunc != nil {
		return m.GenerateAccessTokenFunc(account)
	}
	return "token-for-" + account.ID, nil
}

func (m *MockTokenIssuer) AccessTokenExpiry() time.Duration {
	return 30 * time.Minute
}

// MockTOTPProvider implements TOTPProvider for testing
type MockTOTPProvider struct {
	EnrollFunc       func(accountName string) (*auth.TOTPEnrollment, error)
	ValidateCodeFunc func(encrypted, nonce []byte, code string, lastUsedAt *time.Time, now time.Time) (bool, error)
}

func (m *MockTOTPProvider) Enroll(accountName string) (*auth.TOTPEnrollment, error) {
	if m.EnrollFunc != nil {
		return m.EnrollFunc(accountName)
	}
	return &auth.TOTPEnrollment{
		EncryptedSecret: []byte("enc"),
		Nonce:           []byte("nonce"),
		Secret:          "JBSWY3DPEHPK3PXP",
		QRCodeDataURL:   "data:image/png;base64,",
	}, nil
}

func (m *MockTOTPProvider) ValidateCode(encrypted, nonce []byte, code string, lastUsedAt *time.Time, now time.Time) (bool, error) {
	if m.ValidateCodeFunc != nil {
		return m.ValidateCodeFunc(encrypted, nonce, code, lastUsedAt, now)
	}
	return code == "123456", nil
}

// MemoryRevocations is an in-process revocation list for TokenRevoker and
// auth.TokenRevocationChecker
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (m *MemoryRevocations) RevokeToken(ctx context.Context, jti, accountID string, expiresAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revoked == nil {
		m.revoked = make(map[string]time.Time)
	}
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryRevocations) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}
