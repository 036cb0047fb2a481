package models

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrGateway      = errors.New("gateway error")
	ErrPersistence  = errors.New("persistence error")
	ErrNotFound     = errors.New("not found")
	// ErrConflict means another operation holds the payment intent. Retryable.
	ErrConflict = errors.New("conflicting operation in progress")
)

// Retryable reports whether the worker may try the same capture again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrValidation) && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrNotFound)
}
