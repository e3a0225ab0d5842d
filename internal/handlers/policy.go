package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// PolicyServiceInterface defines the lockout policy admin operations
type PolicyServiceInterface interface {
	CreatePolicy(ctx context.Context, failedAttemptsLimit int, mfaRequired, geoFencingEnabled bool) (*models.Policy, error)
	GetPolicy(ctx context.Context, id int64) (*models.Policy, error)
	AssignPolicy(ctx context.Context, username string, policyID int64) (*models.Account, error)
}

// PolicyHandler handles lockout policy HTTP requests
type PolicyHandler struct {
	service PolicyServiceInterface
	audit   *pkglogger.AuditLogger
	logger  *slog.Logger
}

func NewPolicyHandler(service PolicyServiceInterface, audit *pkglogger.AuditLogger, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{service: service, audit: audit, logger: logger}
}

// CreatePolicyRequest omits failed_attempts_limit to get the default of 5
type CreatePolicyRequest struct {
	FailedAttemptsLimit *int `json:"failed_attempts_limit" validate:"omitempty,gte=1,lte=1000"`
	MFARequired         bool `json:"mfa_required"`
	GeoFencingEnabled   bool `json:"geo_fencing_enabled"`
}

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	PolicyID    *int64    `json:"policy_id"`
	MFAEnrolled bool      `json:"mfa_enrolled"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:          a.ID,
		Username:    a.Username,
		Role:        a.Role,
		PolicyID:    a.PolicyID,
		MFAEnrolled: a.MFAEnrolled(),
		CreatedAt:   a.CreatedAt,
	}
}

// Create handles POST /api/policies
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return
	}

	limit := models.DefaultFailedAttemptsLimit
	if req.FailedAttemptsLimit != nil {
		limit = *req.FailedAttemptsLimit
	}

	policy, err := h.service.CreatePolicy(r.Context(), limit, req.MFARequired, req.GeoFencingEnabled)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.LogPolicyChange("policy_created", actorID(r), map[string]string{
		"policy_id":             strconv.FormatInt(policy.ID, 10),
		"failed_attempts_limit": strconv.Itoa(policy.FailedAttemptsLimit),
	})
	pkghttp.WriteJSON(w, http.StatusCreated, policy)
}

// Get handles GET /api/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		pkghttp.WriteBadRequest(w, "invalid policy id")
		return
	}

	policy, err := h.service.GetPolicy(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, policy)
}

// Assign handles POST /api/accounts/{username}/policy/{policyID}
func (h *PolicyHandler) Assign(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	policyID, err := strconv.ParseInt(chi.URLParam(r, "policyID"), 10, 64)
	if err != nil || policyID < 1 || username == "" {
		pkghttp.WriteBadRequest(w, "invalid username or policy id")
		return
	}

	account, err := h.service.AssignPolicy(r.Context(), username, policyID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.LogPolicyChange("policy_assigned", actorID(r), map[string]string{
		"account_id": account.ID,
		"policy_id":  strconv.FormatInt(policyID, 10),
	})
	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}
