package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
)

// SecurityServiceInterface defines the enforcement switch operations
type SecurityServiceInterface interface {
	State(ctx context.Context) (models.SecurityState, error)
	CurrentToken(ctx context.Context) (*string, error)
	SetEnabled(ctx context.Context, enabled bool) (models.SecurityState, error)
	Rotate(ctx context.Context) (models.SecurityState, error)
}

// SecurityHandler exposes the enforcement switch and chain token to admins
type SecurityHandler struct {
	service  SecurityServiceInterface
	audit    *pkglogger.AuditLogger
	logger   *slog.Logger
	ipConfig *pkghttp.IPConfig
}

func NewSecurityHandler(service SecurityServiceInterface, audit *pkglogger.AuditLogger, logger *slog.Logger, ipConfig *pkghttp.IPConfig) *SecurityHandler {
	return &SecurityHandler{
		service:  service,
		audit:    audit,
		logger:   logger,
		ipConfig: ipConfig,
	}
}

// SetSecurityRequest toggles enforcement. A pointer so that false is not
// mistaken for a missing field.
type SetSecurityRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type SecurityStateResponse struct {
	Enabled bool `json:"enabled"`
}

type ChainResponse struct {
	Chain *string `json:"chain"`
}

// Get handles GET /api/security
func (h *SecurityHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.State(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, SecurityStateResponse{Enabled: state.Enabled})
}

// Chain handles GET /api/security/chain
func (h *SecurityHandler) Chain(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.CurrentToken(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ChainResponse{Chain: token})
}

// Set handles POST /api/security
func (h *SecurityHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req SetSecurityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return
	}

	state, err := h.service.SetEnabled(r.Context(), *req.Enabled)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.LogToggle(actorID(r), pkghttp.ExtractClientIP(r, h.ipConfig), state.Enabled)
	pkghttp.WriteJSON(w, http.StatusOK, SecurityStateResponse{Enabled: state.Enabled})
}

// Rotate handles POST /api/security/chain/rotate. The previous token stops
// working immediately.
func (h *SecurityHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Rotate(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.LogChainRotation(actorID(r), pkghttp.ExtractClientIP(r, h.ipConfig))
	pkghttp.WriteJSON(w, http.StatusOK, ChainResponse{Chain: state.CurrentChain})
}

func actorID(r *http.Request) string {
	if claims := auth.GetClaimsFromContext(r.Context()); claims != nil {
		return claims.AccountID
	}
	return ""
}
