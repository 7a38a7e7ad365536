// Package middleware implements the ordered cross-cutting pipeline wrapped
// around every step execution: logging, security, validation, persistence
// checkpoint, metrics, retry and timeout. Each middleware receives the
// continuation and may act before or after calling it, or short-circuit by
// returning an error.
package middleware

import (
	"context"

	"github.com/flowgrid/flowgrid/model"
)

// StepContext carries one step execution through the pipeline.
type StepContext struct {
	Flow *model.FlowDefinition
	Step *model.FlowStep

	// UserID is the caller on whose behalf the step executes; resumption
	// may supply a different caller than the original start.
	UserID string

	// Inputs are the resolved data-dependency values, InputHash their
	// stable digest used for idempotency.
	Inputs    map[string]interface{}
	InputHash string

	// Attempt is the 1-based attempt number, maintained by the retry
	// middleware.
	Attempt int
}

// StepFunc executes one step attempt.
type StepFunc func(ctx context.Context, sc *StepContext) (*model.StepResult, error)

// Middleware wraps a StepFunc with cross-cutting behaviour.
type Middleware func(next StepFunc) StepFunc

// Chain composes middlewares around a base function; the first middleware
// listed becomes the outermost wrapper.
func Chain(base StepFunc, middlewares ...Middleware) StepFunc {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}
