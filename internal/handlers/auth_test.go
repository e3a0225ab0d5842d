package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BradenHooton/stuffguard/internal/handlers"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/BradenHooton/stuffguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
			got = in
			return &models.LoginResult{AccessToken: "access_token_123", TokenType: "Bearer", ExpiresIn: 1800}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)
	req := handlers.NewTestRequest(t, "POST", "/login", handlers.LoginRequest{
		Username: "alice",
		Password: "Correct-horse-42",
		TOTPCode: "123456",
	})
	req.Header.Set("Authorization", "Bearer previous")

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "192.0.2.10", got.ClientIP)
	assert.Equal(t, "123456", got.TOTPCode)
	assert.True(t, got.UsedSessionCredential)
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid credentials", models.ErrInvalidCredentials, 401, "invalid_credentials"},
		{"account locked", models.ErrRateLimited, 429, "rate_limit_exceeded"},
		{"ip blocked", models.ErrBlocked, 429, "rate_limit_exceeded"},
		{"mfa required", models.ErrMFARequired, 401, "mfa_required"},
		{"policy store down", models.ErrPolicyStoreUnavailable, 503, "service_unavailable"},
		{"unauthorized", models.ErrUnauthorized, 401, "unauthorized"},
		{"unexpected", models.ErrInternalServer, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
					return nil, tt.err
				},
			}
			handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

			w := httptest.NewRecorder()
			handler.Login(w, handlers.NewTestRequest(t, "POST", "/login", handlers.LoginRequest{Username: "alice", Password: "x"}))

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestLogin_MissingFields(t *testing.T) {
	called := false
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
			called = true
			return nil, nil
		},
	}
	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Login(w, handlers.NewTestRequest(t, "POST", "/login", handlers.LoginRequest{Username: "alice"}))

	handlers.AssertErrorResponse(t, w, 400, "validation_error")
	assert.False(t, called)
}

func TestRegister(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Register(w, handlers.NewTestRequest(t, "POST", "/register", handlers.RegisterRequest{Username: "bob", Password: "Correct-horse-42"}))

	var resp handlers.AccountResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "bob", resp.Username)
	assert.Equal(t, models.RoleUser, resp.Role)
}

func TestRegister_Conflict(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		RegisterFunc: func(ctx context.Context, username, password string) (*models.Account, error) {
			return nil, models.ErrConflict
		},
	}
	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Register(w, handlers.NewTestRequest(t, "POST", "/register", handlers.RegisterRequest{Username: "bob", Password: "Correct-horse-42"}))

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestMe(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Me(w, handlers.NewTestRequest(t, "GET", "/api/me", nil))
	handlers.AssertErrorResponse(t, w, 401, "unauthorized")

	w = httptest.NewRecorder()
	handler.Me(w, handlers.WithAuthContext(handlers.NewTestRequest(t, "GET", "/api/me", nil), "acct-1", models.RoleUser))

	var resp handlers.AccountResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "acct-1", resp.ID)
	assert.False(t, resp.MFAEnrolled)
}

func TestEnrollMFA(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, discardLogger(), nil)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/api/me/mfa/enroll", nil), "acct-1", models.RoleUser)

	w := httptest.NewRecorder()
	handler.EnrollMFA(w, req)
	handlers.AssertErrorResponse(t, w, 503, "service_unavailable")

	mockAuth := &handlers.MockAuthService{
		EnrollMFAFunc: func(ctx context.Context, accountID string) (*models.MFAEnrollment, error) {
			return &models.MFAEnrollment{Secret: "JBSWY3DPEHPK3PXP", QRCodeURL: "data:image/png;base64,"}, nil
		},
	}
	w = httptest.NewRecorder()
	handlers.NewAuthHandler(mockAuth, discardLogger(), nil).EnrollMFA(w, req)

	var resp models.MFAEnrollment
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", resp.Secret)
}

func TestToken_AcceptsPasswordGrantForm(t *testing.T) {
	var got services.LoginInput
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
			got = in
			return &models.LoginResult{AccessToken: "access_token_123", TokenType: "Bearer", ExpiresIn: 1800}, nil
		},
	}
	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

	form := url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"Correct-horse-42"},
		"scope":      {"profile"},
	}
	req := httptest.NewRequest("POST", "/api/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.10:51000"

	w := httptest.NewRecorder()
	handler.Token(w, req)

	var resp models.LoginResult
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "Correct-horse-42", got.Password)
	assert.Equal(t, "192.0.2.10", got.ClientIP)
}

func TestToken_RejectsBadForms(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing password", url.Values{"username": {"alice"}}},
		{"unsupported grant", url.Values{"grant_type": {"client_credentials"}, "username": {"alice"}, "password": {"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, in services.LoginInput) (*models.LoginResult, error) {
					called = true
					return nil, nil
				},
			}
			req := httptest.NewRequest("POST", "/api/token", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.RemoteAddr = "192.0.2.10:51000"

			w := httptest.NewRecorder()
			handlers.NewAuthHandler(mockAuth, discardLogger(), nil).Token(w, req)

			assert.Equal(t, 400, w.Code)
			assert.False(t, called)
		})
	}
}

func TestLogout(t *testing.T) {
	var revoked *models.TokenClaims
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims) error {
			revoked = claims
			return nil
		},
	}
	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Logout(w, handlers.NewTestRequest(t, "POST", "/logout", nil))
	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.Nil(t, revoked)

	w = httptest.NewRecorder()
	handler.Logout(w, handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/logout", nil), "acct-1", models.RoleUser))

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "Logged out", resp["detail"])
	require.NotNil(t, revoked)
	assert.Equal(t, "acct-1", revoked.AccountID)
}

func TestLogout_StoreFailure(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims) error {
			return errors.New("connection refused")
		},
	}
	handler := handlers.NewAuthHandler(mockAuth, discardLogger(), nil)

	w := httptest.NewRecorder()
	handler.Logout(w, handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/logout", nil), "acct-1", models.RoleUser))
	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}
