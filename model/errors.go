package model

import (
	"errors"
	"fmt"
	"time"
)

// Graph validation errors are fatal at registration time, before any
// execution.
var (
	ErrInvalidGraph      = errors.New("model: invalid step graph")
	ErrCyclicDependency  = errors.New("model: cyclic step dependency")
	ErrMissingDependency = errors.New("model: missing step dependency")
	ErrDataTypeMismatch  = errors.New("model: data dependency type mismatch")
)

// RateLimitError is a distinguished downstream error carrying the duration
// after which the call may be retried. The retry middleware honours
// RetryAfter and a pause condition may convert it into a paused flow.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

// Error implements error.
func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// AsRateLimit extracts a *RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
