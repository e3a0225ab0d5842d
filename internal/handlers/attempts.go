package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
)

const (
	defaultAttemptLimit = 100
	maxAttemptLimit     = 500
)

// AttemptListerInterface reads the attempt ledger
type AttemptListerInterface interface {
	ListAttempts(ctx context.Context, filter models.AttemptFilter) ([]*models.AttemptRecord, error)
}

// AttemptsHandler serves ledger forensics to admins
type AttemptsHandler struct {
	service AttemptListerInterface
	logger  *slog.Logger
}

func NewAttemptsHandler(service AttemptListerInterface, logger *slog.Logger) *AttemptsHandler {
	return &AttemptsHandler{service: service, logger: logger}
}

type AttemptListResponse struct {
	Attempts []*models.AttemptRecord `json:"attempts"`
	Count    int                     `json:"count"`
}

// List handles GET /api/attempts?ip=..&since=..&limit=..
// ip may be repeated or comma separated; since is RFC 3339.
func (h *AttemptsHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.AttemptFilter{Limit: defaultAttemptLimit}

	for _, value := range query["ip"] {
		for _, ip := range strings.Split(value, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				filter.ClientIPs = append(filter.ClientIPs, ip)
			}
		}
	}

	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxAttemptLimit)
	}

	records, err := h.service.ListAttempts(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []*models.AttemptRecord{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, AttemptListResponse{Attempts: records, Count: len(records)})
}
