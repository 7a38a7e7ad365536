package middleware

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowgrid/model"
)

// Saver persists the flow instance; implementations must retry version
// conflicts with a fresh read.
type Saver func(ctx context.Context, flow *model.FlowDefinition) error

// Checkpoint refreshes the heartbeat and persists the flow before the step
// runs, and again right after when the step is critical. The pre-execution
// write is what makes crash recovery see an up-to-date CurrentStepName.
func Checkpoint(save Saver) Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			sc.Flow.Heartbeat()
			if err := save(ctx, sc.Flow); err != nil {
				return nil, fmt.Errorf("checkpoint before step %q: %w", sc.Step.Name, err)
			}

			result, err := next(ctx, sc)

			if sc.Step.IsCritical {
				sc.Flow.Heartbeat()
				if saveErr := save(ctx, sc.Flow); saveErr != nil && err == nil {
					return result, fmt.Errorf("checkpoint after critical step %q: %w", sc.Step.Name, saveErr)
				}
			}
			return result, err
		}
	}
}
