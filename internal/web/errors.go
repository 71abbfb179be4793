package web

// errors.go turns handler errors into JSON responses.
//
// The technical error is logged with the request id; the client receives
// the user-facing message, action and support code from importer.MapError.
// The status code is derived from the error's sentinel with errors.Is.

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/logging"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/store"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

var (
	errBadRequest = errors.New("invalid request")
	errNoFile     = errors.New("no file provided")
)

// badRequest wraps errBadRequest with detail for the logs.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := importer.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, errNoFile),
		errors.Is(err, tabular.ErrEmptyInput),
		errors.Is(err, tabular.ErrNoHeaders),
		errors.Is(err, tabular.ErrEncodingDetection),
		errors.Is(err, tabular.ErrBadWorkbook),
		errors.Is(err, mapping.ErrColumnOutOfRange),
		errors.Is(err, mapping.ErrUnknownField):
		return http.StatusBadRequest

	case errors.Is(err, importer.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, tabular.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, importer.ErrMappingInvalid):
		return http.StatusUnprocessableEntity

	case errors.Is(err, importer.ErrNoTable),
		errors.Is(err, importer.ErrNoValidatedRows),
		errors.Is(err, importer.ErrInvalidPhase),
		errors.Is(err, importer.ErrImportInProgress),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
