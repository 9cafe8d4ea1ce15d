package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// error shape:
//
//	{"error": "not_found", "message": "meal not found with id 42"}

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/calorily/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable type, e.g. "not_found"
	Message string `json:"message"` // human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends data with the given status. Headers must be set before
// WriteHeader; anything set afterwards is silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status.
//
//	ErrValidation → 400    ErrNotFound  → 404
//	ErrForbidden  → 403    ErrConflict  → 409
//	ErrRejected   → 422    ErrTransient → 503
//	ErrStorage    → 500 (message kept generic; the cause is logged)
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	message := appErr.Message

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrRejected):
		status, errorType = http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, apperror.ErrTransient):
		status, errorType = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrStorage):
		errorType = "storage_error"
		logger.Error("storage failure", slog.String("error", err.Error()))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads one JSON object from the body into dst. Unknown fields
// are rejected so typos in a PATCH don't silently do nothing.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperror.ValidationFailed("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is empty")
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return apperror.ValidationFailed(field, fmt.Sprintf("unknown field %q", field))
		}
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "body must contain a single JSON object")
	}
	return nil
}
