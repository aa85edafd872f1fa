package domain

import "errors"

// Errors surfaced to callers of the order service. Failures of the
// cache or broker are logged, never returned through these.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("not authorized to access this order")
	ErrValidation        = errors.New("invalid order")
	ErrInvalidTransition = errors.New("invalid status transition")
)
