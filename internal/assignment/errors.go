package assignment

import (
	"errors"
	"fmt"

	"github.com/citidesk/internal/store"
)

// Code identifies a failure class to API callers.
type Code string

const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeServiceNotFound Code = "SERVICE_NOT_FOUND"
	CodeTicketNotFound  Code = "TICKET_NOT_FOUND"
	CodeAgentNotFound   Code = "AGENT_NOT_FOUND"
	CodeTicketConflict  Code = "TICKET_CONFLICT"
	CodeAgentConflict   Code = "AGENT_CONFLICT"
	CodeServiceConflict Code = "SERVICE_CONFLICT"
	CodeUserConflict    Code = "USER_CONFLICT"
	CodeStoreConflict   Code = "STORE_CONFLICT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is returned by every Engine operation that fails.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same request may succeed. State
// is unchanged when it returns true.
func (e *Error) Retryable() bool { return e.Code == CodeStoreConflict }

func newError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func invalid(format string, args ...any) *Error {
	return newError(CodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// classify turns a store failure into an Error. Errors that already carry a
// code pass through.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, store.ErrRetryable) {
		return newError(CodeStoreConflict, "the store aborted the transaction, retry the request", err)
	}
	return newError(CodeInternal, message, err)
}
