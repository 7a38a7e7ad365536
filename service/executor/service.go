package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/internal/hash"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/middleware"
	"github.com/flowgrid/flowgrid/service/tracker"
	"github.com/flowgrid/flowgrid/tracing"
)

// Listener observes every finished step attempt; used for audit and event
// trails. Cached reuses report a nil error and the recorded result.
type Listener func(flow *model.FlowDefinition, step *model.FlowStep, result *model.StepResult, err error)

// TriggerFunc submits a fire-and-forget child flow. Failures of the child
// must never propagate back.
type TriggerFunc func(flowType string, initial map[string]interface{}, userID, correlationID string)

// Outcome is the result of driving a flow instance.
type Outcome struct {
	Status  model.Status
	Flow    *model.FlowDefinition
	Elapsed time.Duration
	Err     error
}

// Option customises the executor.
type Option func(*Service)

// WithLogger overrides the executor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithListener attaches a step-attempt observer.
func WithListener(l Listener) Option {
	return func(s *Service) { s.listener = l }
}

// WithTrigger attaches the fire-and-forget submitter used by
// TriggeredFlows.
func WithTrigger(t TriggerFunc) Option {
	return func(s *Service) { s.trigger = t }
}

// Service drives flow instances through their step graphs.
type Service struct {
	flowDAO  dao.Service[string, model.FlowDefinition]
	tracker  tracker.Service
	pipeline middleware.StepFunc
	logger   *zap.Logger
	listener Listener
	trigger  TriggerFunc
}

// New creates an executor bound to a persistence backend, a tracker and a
// composed middleware pipeline.
func New(flowDAO dao.Service[string, model.FlowDefinition], trackerService tracker.Service, pipeline middleware.StepFunc, options ...Option) (*Service, error) {
	if flowDAO == nil {
		return nil, fmt.Errorf("executor: flow DAO is required")
	}
	if trackerService == nil {
		return nil, fmt.Errorf("executor: tracker is required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("executor: pipeline is required")
	}
	s := &Service{
		flowDAO:  flowDAO,
		tracker:  trackerService,
		pipeline: pipeline,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Execute drives the flow to a terminal or paused status and returns the
// outcome with the mutated instance and elapsed time. It is re-entrant: a
// resumed or recovered flow skips steps that already reached a terminal
// state.
func (s *Service) Execute(ctx context.Context, flow *model.FlowDefinition, flowType *model.FlowType) (*Outcome, error) {
	started := clock.Now()
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("flow.run %s", flow.FlowType))
	span.WithAttributes(map[string]string{"flow.id": flow.FlowID, "flow.type": flow.FlowType})

	outcome, err := s.run(ctx, flow, flowType)
	outcome.Elapsed = clock.Since(started)
	tracing.EndSpan(span, outcome.Err)
	return outcome, err
}

func (s *Service) run(ctx context.Context, flow *model.FlowDefinition, flowType *model.FlowType) (*Outcome, error) {
	graph := flowType.Graph()
	if graph == nil {
		return s.fail(ctx, flow, fmt.Errorf("%w: flow type %q not built", model.ErrInvalidGraph, flowType.Name)), nil
	}

	flow.SetStatus(model.StatusRunning)
	if err := s.persist(ctx, flow); err != nil {
		return s.abort(flow, err), err
	}

	for {
		if ctx.Err() != nil {
			return s.cancel(flow), nil
		}

		ready, err := graph.Ready(flow)
		if err != nil {
			// Type-mismatched data dependencies are scheduling defects,
			// fatal to the instance.
			flow.RecordError(flow.CurrentStepName, err)
			return s.fail(ctx, flow, err), nil
		}

		if len(ready) == 0 {
			if graph.Complete(flow) {
				flow.SetStatus(model.StatusCompleted)
				if err := s.persist(ctx, flow); err != nil {
					return s.abort(flow, err), err
				}
				return &Outcome{Status: model.StatusCompleted, Flow: flow}, nil
			}
			err := fmt.Errorf("%w: flow %s at step %q", ErrStalled, flow.FlowID, flow.CurrentStepName)
			flow.RecordError(flow.CurrentStepName, err)
			return s.fail(ctx, flow, err), nil
		}

		batch := nextBatch(ready)
		if err := s.runBatch(ctx, flow, flowType, batch); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return s.cancel(flow), nil
			}
			return s.fail(ctx, flow, err), nil
		}

		if flow.GetStatus() == model.StatusPaused {
			if err := s.persist(ctx, flow); err != nil {
				return s.abort(flow, err), err
			}
			s.logger.Info("flow paused",
				zap.String("flowId", flow.FlowID),
				zap.String("reason", string(flow.PauseReason)))
			return &Outcome{Status: model.StatusPaused, Flow: flow}, nil
		}

		flow.Heartbeat()
		if err := s.persist(ctx, flow); err != nil {
			return s.abort(flow, err), err
		}
	}
}

// nextBatch selects the steps to run before the next dependency barrier:
// every ready parallel-capable step plus at most one serial step, which
// keeps serial steps in strict dependency order among themselves.
func nextBatch(ready []*model.FlowStep) []*model.FlowStep {
	var batch []*model.FlowStep
	serialTaken := false
	for _, step := range ready {
		if step.CanRunInParallel {
			batch = append(batch, step)
			continue
		}
		if !serialTaken {
			batch = append(batch, step)
			serialTaken = true
		}
	}
	return batch
}

func (s *Service) runBatch(ctx context.Context, flow *model.FlowDefinition, flowType *model.FlowType, batch []*model.FlowStep) error {
	if len(batch) == 1 {
		return s.runStep(ctx, flow, flowType, batch[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, step := range batch {
		step := step
		g.Go(func() error {
			return s.runStep(gctx, flow, flowType, step)
		})
	}
	return g.Wait()
}

// runStep executes a single step through the middleware pipeline, expands
// its branches and applies completion effects. It returns an error only
// when the failure is fatal to the whole flow.
func (s *Service) runStep(ctx context.Context, flow *model.FlowDefinition, flowType *model.FlowType, step *model.FlowStep) error {
	flow.SetCurrentStep(step.Name)
	flow.SetStepState(step.Name, model.StepStateRunning)

	inputs := resolveInputs(step, flow)
	inputHash := hash.Inputs(inputs)

	if step.IsIdempotent {
		record, ok, err := s.tracker.HasExecutedSuccessfully(ctx, flow.FlowID, step.Name, inputHash)
		if err == nil && ok {
			s.logger.Debug("reusing recorded result",
				zap.String("flowId", flow.FlowID),
				zap.String("step", step.Name),
				zap.Int("attempt", record.Attempt))
			if err := s.expandBranches(ctx, flow, flowType, step); err != nil {
				return s.stepFailed(ctx, flow, step, nil, err)
			}
			flow.SetStepState(step.Name, model.StepStateCompleted)
			result := &model.StepResult{Success: true, Message: "cached", Output: record.Output}
			s.notify(flow, step, result, nil)
			s.applyJump(flow, flowType, step)
			return nil
		}
	}

	record, err := s.tracker.RecordStart(ctx, flow.FlowID, step.Name, inputHash)
	if err != nil {
		return fmt.Errorf("record start for step %q: %w", step.Name, err)
	}

	sc := &middleware.StepContext{
		Flow:      flow,
		Step:      step,
		UserID:    flow.UserID,
		Inputs:    inputs,
		InputHash: inputHash,
		Attempt:   1,
	}
	stepCtx, span := tracing.StartSpan(ctx, fmt.Sprintf("flow.step %s", step.Name))
	span.WithAttributes(map[string]string{"flow.id": flow.FlowID, "step.name": step.Name})
	result, execErr := s.pipeline(stepCtx, sc)
	tracing.EndSpan(span, execErr)
	if execErr == nil && result != nil && !result.Success {
		execErr = fmt.Errorf("step %q reported failure: %s", step.Name, result.Message)
	}
	if execErr != nil {
		_ = s.tracker.RecordFailure(ctx, record, execErr)
		return s.stepFailed(ctx, flow, step, result, execErr)
	}

	if err := s.expandBranches(ctx, flow, flowType, step); err != nil {
		_ = s.tracker.RecordFailure(ctx, record, err)
		return s.stepFailed(ctx, flow, step, result, err)
	}

	outputHash := ""
	if result != nil && result.Output != nil {
		outputHash = hash.Inputs(map[string]interface{}{"output": result.Output})
	}
	var output interface{}
	if result != nil {
		output = result.Output
	}
	_ = s.tracker.RecordCompletion(ctx, record, outputHash, output)
	flow.SetStepState(step.Name, model.StepStateCompleted)
	s.notify(flow, step, result, nil)

	s.submitTriggered(flow, step)
	s.applyJump(flow, flowType, step)
	s.evaluatePause(flow, step, result)
	return nil
}

// stepFailed records the failure and decides whether the flow survives.
func (s *Service) stepFailed(ctx context.Context, flow *model.FlowDefinition, step *model.FlowStep, result *model.StepResult, err error) error {
	flow.RecordError(step.Name, err)
	flow.SetStepState(step.Name, model.StepStateFailed)
	s.notify(flow, step, result, err)

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}
	if step.AllowFailure {
		s.logger.Warn("step failed, failure allowed",
			zap.String("flowId", flow.FlowID),
			zap.String("step", step.Name),
			zap.Error(err))
		return nil
	}
	return fmt.Errorf("step %q: %w", step.Name, err)
}

func (s *Service) notify(flow *model.FlowDefinition, step *model.FlowStep, result *model.StepResult, err error) {
	if s.listener != nil {
		s.listener(flow, step, result, err)
	}
}

// submitTriggered starts fire-and-forget child flows; their failures never
// reach the trigger flow.
func (s *Service) submitTriggered(flow *model.FlowDefinition, step *model.FlowStep) {
	if s.trigger == nil {
		return
	}
	for _, triggered := range step.TriggeredFlows {
		var initial map[string]interface{}
		if triggered.DeriveData != nil {
			initial = triggered.DeriveData(flow)
		}
		s.trigger(triggered.FlowType, initial, flow.UserID, flow.CorrelationID)
	}
}

// applyJump skips every pending step that is neither required by nor
// downstream of the jump target, making the target the successor while its
// own preconditions still apply.
func (s *Service) applyJump(flow *model.FlowDefinition, flowType *model.FlowType, step *model.FlowStep) {
	if step.JumpTo == "" {
		return
	}
	graph := flowType.Graph()
	keep := graph.Ancestors(step.JumpTo)
	for name := range graph.Descendants(step.JumpTo) {
		keep[name] = true
	}
	keep[step.JumpTo] = true
	for name := range graph.Nodes {
		if keep[name] {
			continue
		}
		if flow.StepState(name) == model.StepStatePending {
			flow.SetStepState(name, model.StepStateSkipped)
		}
	}
	s.logger.Debug("jump applied",
		zap.String("flowId", flow.FlowID),
		zap.String("from", step.Name),
		zap.String("to", step.JumpTo))
}

// evaluatePause pauses the flow when the step's pause condition signals,
// freezing the step's resume policy on the instance.
func (s *Service) evaluatePause(flow *model.FlowDefinition, step *model.FlowStep, result *model.StepResult) {
	if step.PauseCondition == nil {
		return
	}
	signal := step.PauseCondition(flow, result)
	if signal == nil {
		return
	}
	reason := signal.Reason
	if reason == "" {
		reason = model.PauseCustom
	}
	flow.Pause(reason, signal.Message, step.ResumeConfig)
}

// resolveInputs collects the values of the step's declared data
// dependencies; they are the inputs whose hash gates idempotent reuse.
func resolveInputs(step *model.FlowStep, flow *model.FlowDefinition) map[string]interface{} {
	if len(step.DataDependencies) == 0 {
		return nil
	}
	inputs := make(map[string]interface{}, len(step.DataDependencies))
	for _, dep := range step.DataDependencies {
		if value, ok := flow.Get(dep.Key); ok {
			inputs[dep.Key] = value
		}
	}
	return inputs
}

// persist saves the flow, retrying version conflicts with fresh reads. An
// external cancellation observed in storage wins over the local state.
func (s *Service) persist(ctx context.Context, flow *model.FlowDefinition) error {
	var err error
	for attempt := 0; attempt < 8; attempt++ {
		err = s.flowDAO.Save(ctx, flow)
		if !errors.Is(err, dao.ErrVersionConflict) {
			return err
		}
		stored, loadErr := s.flowDAO.Load(ctx, flow.FlowID)
		if loadErr != nil {
			return fmt.Errorf("reload after version conflict: %w", loadErr)
		}
		if stored.GetStatus() == model.StatusCancelled {
			flow.MarkCancelled(stored.CancelReason)
			return ErrCancelled
		}
		flow.SetVersion(stored.Version)
	}
	return err
}

func (s *Service) fail(ctx context.Context, flow *model.FlowDefinition, err error) *Outcome {
	flow.SetStatus(model.StatusFailed)
	if persistErr := s.persist(ctx, flow); persistErr != nil {
		s.logger.Error("failed to persist failed flow",
			zap.String("flowId", flow.FlowID), zap.Error(persistErr))
	}
	s.logger.Warn("flow failed", zap.String("flowId", flow.FlowID), zap.Error(err))
	return &Outcome{Status: model.StatusFailed, Flow: flow, Err: err}
}

// cancel records the cancellation and leaves the flow in a recoverable
// persisted state; persistence runs on a fresh context since the flow's own
// context is already cancelled.
func (s *Service) cancel(flow *model.FlowDefinition) *Outcome {
	flow.MarkCancelled("execution cancelled")
	if err := s.persist(context.Background(), flow); err != nil {
		s.logger.Error("failed to persist cancelled flow",
			zap.String("flowId", flow.FlowID), zap.Error(err))
	}
	s.logger.Info("flow cancelled",
		zap.String("flowId", flow.FlowID),
		zap.String("reason", flow.CancelReason))
	return &Outcome{Status: model.StatusCancelled, Flow: flow, Err: ErrCancelled}
}

// abort reports an infrastructure failure (persistence outage) without
// forcing a terminal status the storage could not record anyway.
func (s *Service) abort(flow *model.FlowDefinition, err error) *Outcome {
	s.logger.Error("flow aborted on infrastructure failure",
		zap.String("flowId", flow.FlowID), zap.Error(err))
	return &Outcome{Status: flow.GetStatus(), Flow: flow, Err: err}
}
