package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/stuffguard/internal/models"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
)

// writeServiceError maps service sentinels onto HTTP responses. Messages are
// generic; the specific reason only reaches the logs and the ledger.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeValidation, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "resource already exists")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, models.ErrMFARequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeMFARequired, "mfa code required")
	case errors.Is(err, models.ErrRateLimited), errors.Is(err, models.ErrBlocked):
		pkghttp.WriteTooManyRequests(w, "too many attempts")
	case errors.Is(err, models.ErrPolicyStoreUnavailable),
		errors.Is(err, models.ErrMFAUnavailable):
		pkghttp.WriteServiceUnavailable(w, "service temporarily unavailable")
	default:
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
