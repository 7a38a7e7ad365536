package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/auth"
)

// Retry re-runs a failed attempt up to the step's MaxRetries with its
// RetryDelay between attempts. Rate-limit errors override the delay with
// their retry-after duration. Authorization failures and validation errors
// are never retried; cancellation stops retrying immediately.
func Retry() Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			var result *model.StepResult
			var err error
			attempts := sc.Step.MaxRetries + 1
			for attempt := 1; attempt <= attempts; attempt++ {
				sc.Attempt = attempt
				result, err = next(ctx, sc)
				if err == nil && (result == nil || result.Success) {
					return result, nil
				}
				if err != nil && !retryable(err) {
					return result, err
				}
				if attempt == attempts {
					break
				}
				delay := sc.Step.RetryDelay
				if rle, ok := model.AsRateLimit(err); ok && rle.RetryAfter > 0 {
					delay = rle.RetryAfter
				}
				if delay > 0 {
					select {
					case <-time.After(delay):
					case <-ctx.Done():
						return result, ctx.Err()
					}
				}
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
			}
			return result, err
		}
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, auth.ErrUnauthorized):
		return false
	case errors.Is(err, model.ErrInvalidGraph),
		errors.Is(err, model.ErrMissingDependency),
		errors.Is(err, model.ErrDataTypeMismatch):
		return false
	}
	return true
}
