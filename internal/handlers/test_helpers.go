package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/BradenHooton/stuffguard/internal/services"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:51000"
	return req
}

// WithAuthContext adds session claims to the request context
func WithAuthContext(req *http.Request, accountID, role string) *http.Request {
	claims := &models.TokenClaims{
		Type:      "access",
		AccountID: accountID,
		Username:  accountID,
		Role:      role,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParams sets chi route parameters on the request
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockScoreService implements ScoreServiceInterface for testing
type MockScoreService struct {
	ScoreFunc         func(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error)
	RecordBlockedFunc func(ctx context.Context, clientIP, detail string)
}

func (m *MockScoreService) Score(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, in)
	}
	return models.ScoreResult{Status: models.ScoreStatusOK}, nil
}

func (m *MockScoreService) RecordBlocked(ctx context.Context, clientIP, detail string) {
	if m.RecordBlockedFunc != nil {
		m.RecordBlockedFunc(ctx, clientIP, detail)
	}
}

// MockChainVerifier accepts only Token, nil Token disables checking
type MockChainVerifier struct {
	Token *string
	Err   error
}

func (m *MockChainVerifier) VerifyAndRotate(ctx context.Context, presented *string) error {
	if m.Err != nil {
		return m.Err
	}
	if m.Token == nil {
		return nil
	}
	if presented == nil || *presented != *m.Token {
		return models.ErrInvalidChainToken
	}
	return nil
}

// MockAccountLimits implements AccountLimitResolver for testing
type MockAccountLimits map[string]int

func (m MockAccountLimits) AccountFailLimit(ctx context.Context, accountID string) int {
	return m[accountID]
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	StateFunc        func(ctx context.Context) (models.SecurityState, error)
	CurrentTokenFunc func(ctx context.Context) (*string, error)
	SetEnabledFunc   func(ctx context.Context, enabled bool) (models.SecurityState, error)
	RotateFunc       func(ctx context.Context) (models.SecurityState, error)
}

func (m *MockSecurityService) State(ctx context.Context) (models.SecurityState, error) {
	if m.StateFunc != nil {
		return m.StateFunc(ctx)
	}
	return models.SecurityState{Enabled: true}, nil
}

func (m *MockSecurityService) CurrentToken(ctx context.Context) (*string, error) {
	if m.CurrentTokenFunc != nil {
		return m.CurrentTokenFunc(ctx)
	}
	return nil, nil
}

func (m *MockSecurityService) SetEnabled(ctx context.Context, enabled bool) (models.SecurityState, error) {
	if m.SetEnabledFunc != nil {
		return m.SetEnabledFunc(ctx, enabled)
	}
	return models.SecurityState{Enabled: enabled}, nil
}

func (m *MockSecurityService) Rotate(ctx context.Context) (models.SecurityState, error) {
	if m.RotateFunc != nil {
		return m.RotateFunc(ctx)
	}
	return models.SecurityState{}, nil
}

// MockPolicyService implements PolicyServiceInterface for testing
type MockPolicyService struct {
	CreatePolicyFunc func(ctx context.Context, failedAttemptsLimit int, mfaRequired, geoFencingEnabled bool) (*models.Policy, error)
	GetPolicyFunc    func(ctx context.Context, id int64) (*models.Policy, error)
	AssignPolicyFunc func(ctx context.Context, username string, policyID int64) (*models.Account, error)
}

func (m *MockPolicyService) CreatePolicy(ctx context.Context, failedAttemptsLimit int, mfaRequired, geoFencingEnabled bool) (*models.Policy, error) {
	if m.CreatePolicyFunc != nil {
		return m.CreatePolicyFunc(ctx, failedAttemptsLimit, mfaRequired, geoFencingEnabled)
	}
	return &models.Policy{ID: 1, FailedAttemptsLimit: failedAttemptsLimit, MFARequired: mfaRequired, GeoFencingEnabled: geoFencingEnabled}, nil
}

func (m *MockPolicyService) GetPolicy(ctx context.Context, id int64) (*models.Policy, error) {
	if m.GetPolicyFunc != nil {
		return m.GetPolicyFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockPolicyService) AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error) {
	if m.AssignPolicyFunc != nil {
		return m.AssignPolicyFunc(ctx, username, policyID)
	}
	return nil, models.ErrNotFound
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc  func(ctx context.Context, username, password string) (*models.Account, error)
	LoginFunc     func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error)
	MeFunc        func(ctx context.Context, accountID string) (*models.Account, error)
	EnrollMFAFunc func(ctx context.Context, accountID string) (*models.MFAEnrollment, error)
	LogoutFunc    func(ctx context.Context, claims *models.TokenClaims) error
}

func (m *MockAuthService) Register(ctx context.Context, username, password string) (*models.Account, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, username, password)
	}
	return &models.Account{ID: "acct-new", Username: username, Role: models.RoleUser}, nil
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) Me(ctx context.Context, accountID string) (*models.Account, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, accountID)
	}
	return &models.Account{ID: accountID, Username: accountID, Role: models.RoleUser}, nil
}

func (m *MockAuthService) EnrollMFA(ctx context.Context, accountID string) (*models.MFAEnrollment, error) {
	if m.EnrollMFAFunc != nil {
		return m.EnrollMFAFunc(ctx, accountID)
	}
	return nil, models.ErrMFAUnavailable
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, claims)
	}
	return nil
}

// MockAttemptLister implements AttemptListerInterface for testing
type MockAttemptLister struct {
	ListAttemptsFunc func(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error)
}

func (m *MockAttemptLister) ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error) {
	if m.ListAttemptsFunc != nil {
		return m.ListAttemptsFunc(ctx, filter)
	}
	return nil, nil
}
