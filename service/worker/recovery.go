package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
)

// RecoverFunc re-drives an orphaned flow. Implemented by the engine; it
// relies on the tracker and the recorded step states to skip work that
// already finished.
type RecoverFunc func(ctx context.Context, flowID string) error

// Recovery finds flows still marked running whose heartbeat went stale -
// their executor died mid-run - and hands them back to the engine.
type Recovery struct {
	flowDAO    dao.Service[string, model.FlowDefinition]
	staleAfter time.Duration
	recover    RecoverFunc
	logger     *zap.Logger
}

// NewRecovery creates the sweep; wire it into a TickWorker to run it.
func NewRecovery(flowDAO dao.Service[string, model.FlowDefinition], staleAfter time.Duration, recover RecoverFunc, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{flowDAO: flowDAO, staleAfter: staleAfter, recover: recover, logger: logger}
}

// Sweep re-drives every orphaned running flow once.
func (r *Recovery) Sweep(ctx context.Context) {
	running, err := r.flowDAO.List(ctx, dao.NewParameter(criteria.ParamStatus, string(model.StatusRunning)))
	if err != nil {
		r.logger.Warn("recovery sweep failed to list running flows", zap.Error(err))
		return
	}
	for _, flow := range running {
		if ctx.Err() != nil {
			return
		}
		stale := clock.Since(flow.LastHeartbeatAt)
		if stale < r.staleAfter {
			continue
		}
		r.logger.Info("recovering orphaned flow",
			zap.String("flowId", flow.FlowID),
			zap.Duration("heartbeatAge", stale))
		if err := r.recover(ctx, flow.FlowID); err != nil {
			r.logger.Warn("flow recovery failed",
				zap.String("flowId", flow.FlowID), zap.Error(err))
		}
	}
}
