// Package httpx provides HTTP response utilities.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/unigate/unigate/internal/shared"
)

const internalErrorMessage = "Internal server error"

// StatusFor maps an error to the status code of its class.
func StatusFor(err error) int {
	switch shared.Kind(err) {
	case shared.ErrAuthentication:
		return http.StatusUnauthorized
	case shared.ErrAuthorization:
		return http.StatusForbidden
	case shared.ErrNotFound:
		return http.StatusNotFound
	case shared.ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err using its class status. System errors are logged
// and replaced with a generic message.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", slog.Any("error", err))
		}
		Message(w, status, internalErrorMessage)
		return
	}
	Message(w, status, err.Error())
}
