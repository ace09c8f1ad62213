// Package apperror defines the domain error kinds shared by every layer.
//
// Services return these; only the HTTP layer (handler.writeError) knows how
// they map to status codes.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("Validation Error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMisconfigured   = errors.New("server misconfigured")
	ErrTokenExchange   = errors.New("token exchange failed")
	ErrAccountLinked   = errors.New("account already linked")
)

// CodeAccountAlreadyLinked is the machine-readable code clients branch on when
// a TikTok account already belongs to a different local user.
const CodeAccountAlreadyLinked = "ACCOUNT_ALREADY_LINKED"

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Code    string // Optional: stable machine-readable code
	Detail  string // Optional: diagnostic detail from an upstream provider
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthenticated means no verified session accompanied the request.
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "valid authentication required",
	}
}

// Misconfigured reports a missing server-side setting. The message stays
// generic; what is missing belongs in the logs, not in the response.
func Misconfigured(setting string) *AppError {
	return &AppError{
		Err:     ErrMisconfigured,
		Message: "server configuration error",
		Field:   setting,
	}
}

// TokenExchangeFailed wraps a provider rejection of an authorization code or
// refresh token. cause is surfaced as Detail.
func TokenExchangeFailed(cause error) *AppError {
	e := &AppError{
		Err:     ErrTokenExchange,
		Message: "failed to exchange code for token",
	}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// AccountAlreadyLinked reports that an external account is held by another
// local user.
func AccountAlreadyLinked(provider string) *AppError {
	return &AppError{
		Err:     ErrAccountLinked,
		Message: fmt.Sprintf("This %s account is already connected to another user.", provider),
		Code:    CodeAccountAlreadyLinked,
	}
}
