package middleware

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/model"
)

// Validation re-checks the step's preconditions right before execution: the
// execution function must exist and every data dependency must be present
// with a matching type. A violation here is a scheduling defect and fatal.
func Validation() Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			if sc.Step.Execute == nil {
				return nil, fmt.Errorf("%w: step %q has no execution function", model.ErrInvalidGraph, sc.Step.Name)
			}
			ok, err := model.DataSatisfied(sc.Step, sc.Flow)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: step %q scheduled before its data dependencies", model.ErrMissingDependency, sc.Step.Name)
			}
			return next(ctx, sc)
		}
	}
}
