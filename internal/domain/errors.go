package domain

import (
	"errors"
	"fmt"
)

// Code classifies an application error independently of the transport that
// reports it.
type Code string

const (
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	CodeInternal           Code = "INTERNAL"
)

// AppError is the error type returned across service boundaries.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, domain.ErrForbidden).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func newError(code Code, msg string) error {
	return &AppError{Code: code, Message: msg}
}

func Authentication(msg string) error { return newError(CodeUnauthenticated, msg) }
func Validation(msg string) error { return newError(CodeInvalidArgument, msg) }
func Forbidden(msg string) error { return newError(CodePermissionDenied, msg) }
func NotFound(msg string) error { return newError(CodeNotFound, msg) }
func Conflict(msg string) error { return newError(CodeFailedPrecondition, msg) }
func RateLimited(msg string) error { return newError(CodeResourceExhausted, msg) }

// Internal wraps an infrastructure failure. The cause is kept for logging and
// never shown to clients.
func Internal(msg string, cause error) error {
	return &AppError{Code: CodeInternal, Message: msg, Cause: cause}
}

// Sentinels for errors.Is checks. They match on code only.
var (
	ErrAuthentication = &AppError{Code: CodeUnauthenticated}
	ErrValidation     = &AppError{Code: CodeInvalidArgument}
	ErrForbidden      = &AppError{Code: CodePermissionDenied}
	ErrNotFound       = &AppError{Code: CodeNotFound}
	ErrConflict       = &AppError{Code: CodeFailedPrecondition}
	ErrInternal       = &AppError{Code: CodeInternal}
)

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal for anything else.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// PublicMessage is what a client may see for err. Internal failures are
// reduced to a generic text.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != CodeInternal {
		return appErr.Message
	}
	return "internal server error"
}
