package middleware

import (
	"context"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/auth"
)

// Security denies execution when the owning user lacks access to the step.
// The check runs on every step execution since a resumed flow may run under
// a different caller than the one that started it.
func Security(authorizer auth.Authorizer) Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			if err := authorizer.AuthorizeFlow(sc.UserID, sc.Flow.FlowType); err != nil {
				return nil, err
			}
			if err := authorizer.AuthorizeStep(sc.UserID, sc.Step.Name); err != nil {
				return nil, err
			}
			return next(ctx, sc)
		}
	}
}
