// Package apperror defines the domain errors shared by every layer.
//
// Two families live here:
//   - request errors (not found, validation, conflict, forbidden) that the HTTP
//     layer maps to 4xx responses
//   - execution errors (busy, timeout, transport, remote failure) produced while
//     dispatching code to the execution service
//
// Callers test for a family with errors.Is against the sentinel values and pull
// the human-readable message out with errors.As(&*AppError).
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrBusy is returned when a surface is already executing. The dispatch is
	// dropped without side effects.
	ErrBusy = errors.New("execution already in progress")

	// ErrTimeout means the client-side ceiling fired before the service answered.
	ErrTimeout = errors.New("execution timed out")

	// ErrTransport means the request never produced a usable response.
	ErrTransport = errors.New("execution service unreachable")

	// ErrRemoteFailure means the service ran the code and reported failure.
	ErrRemoteFailure = errors.New("remote execution failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
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

// Busy reports that the named surface already has an execution in flight.
func Busy(surface string) *AppError {
	return &AppError{
		Err:     ErrBusy,
		Message: fmt.Sprintf("%s is already executing", surface),
	}
}

// Timeout wraps a client-side deadline. The message names the likely cause so
// users can tell it apart from an error raised by their own code.
func Timeout(cause error) *AppError {
	msg := "Execution timed out. The code may contain an infinite loop or a very long-running operation."
	return &AppError{
		Err:     errors.Join(ErrTimeout, cause),
		Message: msg,
	}
}

// Transport wraps a network failure talking to the execution service.
func Transport(cause error) *AppError {
	msg := "Could not reach the execution service. Check that the backend is running."
	if cause != nil {
		msg = fmt.Sprintf("Could not reach the execution service: %s. Check that the backend is running.", cause.Error())
	}
	return &AppError{
		Err:     errors.Join(ErrTransport, cause),
		Message: msg,
	}
}

// RemoteFailure carries the service's stderr verbatim as the message.
func RemoteFailure(stderr string) *AppError {
	return &AppError{
		Err:     ErrRemoteFailure,
		Message: stderr,
	}
}
