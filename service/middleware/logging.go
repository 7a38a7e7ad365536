package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/model"
)

// Logging logs every step attempt with its outcome and duration.
func Logging(logger *zap.Logger) Middleware {
	return func(next StepFunc) StepFunc {
		return func(ctx context.Context, sc *StepContext) (*model.StepResult, error) {
			started := time.Now()
			logger.Debug("step starting",
				zap.String("flowId", sc.Flow.FlowID),
				zap.String("flowType", sc.Flow.FlowType),
				zap.String("step", sc.Step.Name),
				zap.Int("attempt", sc.Attempt))

			result, err := next(ctx, sc)

			fields := []zap.Field{
				zap.String("flowId", sc.Flow.FlowID),
				zap.String("step", sc.Step.Name),
				zap.Int("attempt", sc.Attempt),
				zap.Duration("duration", time.Since(started)),
			}
			if err != nil {
				logger.Warn("step failed", append(fields, zap.Error(err))...)
				return result, err
			}
			logger.Info("step finished", fields...)
			return result, nil
		}
	}
}
