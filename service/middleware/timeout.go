package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowgrid/flowgrid/model"
)

// ErrStepTimeout marks an attempt cancelled by the step's own timeout; it
// feeds the retry policy like any other transient failure.
var ErrStepTimeout = errors.New("middleware: step timed out")

// Timeout cancels an attempt that exceeds the step's configured Timeout.
// Steps without a timeout run unbounded; the flow itself never has a
// deadline.
func Timeout() Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			if sc.Step.Timeout <= 0 {
				return next(ctx, sc)
			}
			attemptCtx, cancel := context.WithTimeout(ctx, sc.Step.Timeout)
			defer cancel()

			result, err := next(attemptCtx, sc)
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return result, fmt.Errorf("%w: step %q exceeded %s", ErrStepTimeout, sc.Step.Name, sc.Step.Timeout)
			}
			return result, err
		}
	}
}
