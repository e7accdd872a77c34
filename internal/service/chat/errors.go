package chat

import "errors"

// Sentinel errors; the messages of ErrUnauthorized and ErrSessionNotFound are
// returned to clients verbatim.
var (
	ErrValidation      = errors.New("invalid request")
	ErrUnauthorized    = errors.New("Invalid or missing user_id")
	ErrSessionNotFound = errors.New("Chat session not found")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// UpstreamError wraps a failed model exchange.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimitError carries the client-facing rejection text.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// ValidationError carries the client-facing description of a bad request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
