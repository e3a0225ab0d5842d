package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/BradenHooton/stuffguard/internal/services"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string) (*models.Account, error)
	Login(ctx context.Context, in services.LoginInput) (*models.LoginResult, error)
	Me(ctx context.Context, accountID string) (*models.Account, error)
	EnrollMFA(ctx context.Context, accountID string) (*models.MFAEnrollment, error)
	Logout(ctx context.Context, claims *models.TokenClaims) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	logger   *slog.Logger
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		logger:   logger,
		ipConfig: ipConfig,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=72"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,max=16"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return
	}

	account, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

// Login handles POST /login. Every failure response is generic; the
// specific reason is only recorded in the ledger.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	h.login(w, r, req)
}

// Token handles POST /api/token, the OAuth2 password grant form of login. The
// body is application/x-www-form-urlencoded; extra OAuth2 fields such as
// scope and client_id are ignored.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		pkghttp.WriteBadRequest(w, "invalid form body")
		return
	}
	if grant := r.PostForm.Get("grant_type"); grant != "" && grant != "password" {
		pkghttp.WriteBadRequest(w, "unsupported grant_type")
		return
	}

	h.login(w, r, LoginRequest{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
		TOTPCode: r.PostForm.Get("totp_code"),
	})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, req LoginRequest) {
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return
	}

	clientIP := pkghttp.ExtractClientIP(r, h.ipConfig)
	if clientIP == "" {
		pkghttp.WriteBadRequest(w, "client address unavailable")
		return
	}

	_, hasBearer := auth.BearerToken(r)
	result, err := h.service.Login(r.Context(), services.LoginInput{
		Username:              req.Username,
		Password:              req.Password,
		TOTPCode:              req.TOTPCode,
		ClientIP:              clientIP,
		UsedSessionCredential: hasBearer,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Me handles GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	account, err := h.service.Me(r.Context(), claims.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

// EnrollMFA handles POST /api/me/mfa/enroll. The secret is shown once.
func (h *AuthHandler) EnrollMFA(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.service.EnrollMFA(r.Context(), claims.AccountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// Logout handles POST /logout. The presented credential is revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"detail": "Logged out"})
}
