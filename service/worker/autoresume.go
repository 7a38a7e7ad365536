package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
	"github.com/flowgrid/flowgrid/service/registry"
)

// ResumeFunc resumes a paused flow. Implemented by the engine; it must be
// idempotent against concurrent resume attempts.
type ResumeFunc func(ctx context.Context, flowID, cause string) error

// AutoResume periodically sweeps paused flows and resumes those whose
// condition predicate holds or whose pause timeout elapsed with auto-resume
// enabled. Timed-out flows without auto-resume stay paused and are flagged
// in the log for intervention.
type AutoResume struct {
	flowDAO  dao.Service[string, model.FlowDefinition]
	registry *registry.Service
	resume   ResumeFunc
	logger   *zap.Logger
}

// NewAutoResume creates the sweep; wire it into a TickWorker to run it.
func NewAutoResume(flowDAO dao.Service[string, model.FlowDefinition], reg *registry.Service, resume ResumeFunc, logger *zap.Logger) *AutoResume {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoResume{flowDAO: flowDAO, registry: reg, resume: resume, logger: logger}
}

// Sweep evaluates the resume triggers of every paused flow once.
func (a *AutoResume) Sweep(ctx context.Context) {
	paused, err := a.flowDAO.List(ctx, dao.NewParameter(criteria.ParamStatus, string(model.StatusPaused)))
	if err != nil {
		a.logger.Warn("auto-resume sweep failed to list paused flows", zap.Error(err))
		return
	}
	for _, flow := range paused {
		if ctx.Err() != nil {
			return
		}
		a.evaluate(ctx, flow)
	}
}

func (a *AutoResume) evaluate(ctx context.Context, flow *model.FlowDefinition) {
	cfg := ResolveResumeConfig(flow, a.registry)
	if cfg == nil {
		return
	}

	if cfg.Timeout != nil && flow.PausedAt != nil {
		elapsed := clock.Since(*flow.PausedAt)
		if elapsed >= cfg.Timeout.Duration {
			if cfg.Timeout.AutoResume {
				a.tryResume(ctx, flow, "pause timeout elapsed")
				return
			}
			a.logger.Warn("paused flow exceeded its timeout, awaiting intervention",
				zap.String("flowId", flow.FlowID),
				zap.Duration("pausedFor", elapsed),
				zap.String("reason", string(flow.PauseReason)))
		}
	}

	if cfg.Condition != nil && cfg.Condition.Predicate != nil {
		if cfg.Condition.Predicate(flow) {
			a.tryResume(ctx, flow, "resume condition satisfied")
		}
	}
}

func (a *AutoResume) tryResume(ctx context.Context, flow *model.FlowDefinition, cause string) {
	if err := a.resume(ctx, flow.FlowID, cause); err != nil {
		a.logger.Warn("auto-resume failed",
			zap.String("flowId", flow.FlowID),
			zap.String("cause", cause),
			zap.Error(err))
		return
	}
	a.logger.Info("flow auto-resumed",
		zap.String("flowId", flow.FlowID), zap.String("cause", cause))
}

// ResolveResumeConfig returns the effective resume policy of a paused flow.
// Predicates and filters are code and do not survive serialisation, so the
// registered flow type's step definition is authoritative when it carries a
// policy; the instance copy is the fallback for steps without one.
func ResolveResumeConfig(flow *model.FlowDefinition, reg *registry.Service) *model.ResumeConfig {
	if flow.ActiveResumeConfig == nil {
		return nil
	}
	if reg != nil {
		if flowType, err := reg.Lookup(flow.FlowType); err == nil {
			if step := flowType.Step(flow.CurrentStepName); step != nil && step.ResumeConfig != nil {
				return step.ResumeConfig
			}
		}
	}
	return flow.ActiveResumeConfig
}
