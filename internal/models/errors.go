package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration and worker surfaces. Handlers map
// these onto HTTP status codes; everything else is an internal error.
var (
	ErrValidation = errors.New("validation error")
	ErrDispatch   = errors.New("dispatch error")
	ErrHandler    = errors.New("handler error")
	ErrTimeout    = errors.New("timeout error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
	ErrCancelled  = errors.New("cancelled")
)

// ValidationError wraps a message as a caller-caused validation failure
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// DispatchError wraps a queue/dispatch failure
func DispatchError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDispatch, fmt.Sprintf(format, args...))
}

// TimeoutError wraps an exceeded deadline
func TimeoutError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTimeout, fmt.Sprintf(format, args...))
}

// NotFoundError wraps a missing-entity failure
func NotFoundError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// HandlerError wraps a failure raised by a worker handler
func HandlerError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrHandler, fmt.Sprintf(format, args...))
}

// InternalError wraps a runtime-side failure
func InternalError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// ConflictError wraps an invalid state-transition attempt
func ConflictError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsValidation reports whether err is caller-caused
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a missing-entity failure
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is an invalid state transition
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsTimeout reports whether err is a deadline failure
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
