package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/stuffguard/internal/metrics"
	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
)

// ChainTokenHeader carries the current chain token on scoring requests
const ChainTokenHeader = "X-Chain-Password"

// ScoreServiceInterface defines the scorer operations used by the ingress
type ScoreServiceInterface interface {
	Score(ctx context.Context, in models.ScoreInput) (models.ScoreResult, error)
	RecordBlocked(ctx context.Context, clientIP, detail string)
}

// ChainVerifier consumes a presented chain token
type ChainVerifier interface {
	VerifyAndRotate(ctx context.Context, presented *string) error
}

// AccountLimitResolver returns the lockout limit for an account id, 0 for the default
type AccountLimitResolver interface {
	AccountFailLimit(ctx context.Context, accountID string) int
}

// ScoreHandler is the scoring ingress. Only the holder of the current chain
// token may submit an observation.
type ScoreHandler struct {
	scorer  ScoreServiceInterface
	chain   ChainVerifier
	limits  AccountLimitResolver
	metrics *metrics.Metrics
	audit   *pkglogger.AuditLogger
	logger  *slog.Logger
}

func NewScoreHandler(scorer ScoreServiceInterface, chain ChainVerifier, limits AccountLimitResolver, m *metrics.Metrics, audit *pkglogger.AuditLogger, logger *slog.Logger) *ScoreHandler {
	return &ScoreHandler{
		scorer:  scorer,
		chain:   chain,
		limits:  limits,
		metrics: m,
		audit:   audit,
		logger:  logger,
	}
}

// ScoreRequest is one authentication outcome reported by a login frontend
type ScoreRequest struct {
	ClientIP   string `json:"client_ip" validate:"required,ip"`
	AuthResult string `json:"auth_result" validate:"required,oneof=success failure"`
	WithJWT    bool   `json:"with_jwt"`
	AccountID  string `json:"account_id" validate:"omitempty,max=128"`
}

// Score handles POST /score
func (h *ScoreHandler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var presented *string
	if token := r.Header.Get(ChainTokenHeader); token != "" {
		presented = &token
	}

	if err := h.chain.VerifyAndRotate(ctx, presented); err != nil {
		h.rejectChain(w, r, presented != nil, err)
		return
	}

	var req ScoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
		return
	}

	in := models.ScoreInput{
		ClientIP:              req.ClientIP,
		Success:               req.AuthResult == "success",
		AccountID:             req.AccountID,
		UsedSessionCredential: req.WithJWT,
	}
	if in.AccountID != "" && h.limits != nil {
		in.AccountFailLimit = h.limits.AccountFailLimit(ctx, in.AccountID)
	}

	result, err := h.scorer.Score(ctx, in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.audit.LogScore(in.ClientIP, in.AccountID, in.Success, result.Status, result.FailsLastWindow)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func (h *ScoreHandler) rejectChain(w http.ResponseWriter, r *http.Request, tokenPresent bool, err error) {
	if !errors.Is(err, models.ErrInvalidChainToken) {
		h.logger.Error("chain token check failed", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "service temporarily unavailable")
		return
	}

	// keyed by the transport peer, the body has not been read
	peer := pkghttp.PeerIP(r)
	h.scorer.RecordBlocked(r.Context(), peer, models.DetailBlockedInvalidChain)
	h.metrics.ObserveChainRejection()
	h.audit.LogChainRejection(peer, tokenPresent)
	pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidChainToken, "invalid or stale chain token")
}
