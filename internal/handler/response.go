package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// success shape and one error shape:
//
//   {"error": "account_already_linked", "message": "...", "code": "ACCOUNT_ALREADY_LINKED"}
//
// "error" is the kind the frontend switches on, "message" is for people.
// "code" appears only where a client must branch on a specific case, and
// "detail" only for upstream provider diagnostics.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/mochi-mirror/internal/apperror"
)

// maxBodyBytes caps JSON request bodies. Every request body here is a handful
// of fields.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`            // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`          // Human-readable description
	Field   string `json:"field,omitempty"`  // Offending input field for validation errors
	Code    string `json:"code,omitempty"`   // Stable code for cases clients branch on
	Detail  string `json:"detail,omitempty"` // Upstream provider diagnostics
}

// SuccessResponse is the body of mutations that return nothing else.
type SuccessResponse struct {
	Success bool `json:"success"`
}

var okResponse = SuccessResponse{Success: true}

// writeJSON sends a JSON response with the given status code.
// Headers and status must go out before the body; anything set after the
// first Write is ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The status is already on the wire; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// The service layer returns apperror kinds wrapped with context:
//
//	fmt.Errorf("service/linker: storing link: %w", apperror.AccountAlreadyLinked("TikTok"))
//
// errors.Is walks that chain down to the sentinel, errors.As pulls out the
// *AppError for the message. Anything that is not an AppError is a storage
// or programming fault and gets a generic 500: raw errors can carry SQL or
// file paths.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal_error", Message: appErr.Message}

	switch {
	case errors.Is(err, apperror.ErrUnauthenticated):
		status = http.StatusUnauthorized // 401
		resp.Error = "unauthorized"
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest // 400
		resp.Error = "validation_error"
		resp.Field = appErr.Field
	case errors.Is(err, apperror.ErrTokenExchange):
		status = http.StatusBadRequest // 400
		resp.Error = "token_exchange_failed"
		resp.Detail = appErr.Detail
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound // 404
		resp.Error = "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden // 403
		resp.Error = "forbidden"
	case errors.Is(err, apperror.ErrAccountLinked):
		status = http.StatusConflict // 409
		resp.Error = "account_already_linked"
		resp.Code = appErr.Code
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict // 409
		resp.Error = "conflict"
	case errors.Is(err, apperror.ErrMisconfigured):
		// What is missing goes to the log, never to the client.
		slog.Error("server misconfigured", slog.String("setting", appErr.Field))
		resp.Error = "server_misconfigured"
	default:
		slog.Error("unmapped application error", slog.String("error", err.Error()))
		resp.Message = "An internal error occurred"
	}

	writeJSON(w, status, resp)
}

// decodeJSON reads a single JSON object from the request body into dst.
// An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperror.ValidationFailed("body", fmt.Sprintf("Invalid JSON body: %v", err))
	}
	return nil
}
