package flowgrid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/internal/idgen"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/progress"
	"github.com/flowgrid/flowgrid/service/approval"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
	"github.com/flowgrid/flowgrid/service/event"
	"github.com/flowgrid/flowgrid/service/executor"
	"github.com/flowgrid/flowgrid/service/tracker"
	"github.com/flowgrid/flowgrid/service/worker"
)

// ErrNotResumable is returned when resuming a flow that already reached a
// terminal status.
var ErrNotResumable = errors.New("flowgrid: flow is not resumable")

// StartOption customises a single flow start.
type StartOption func(*startOptions)

type startOptions struct {
	flowID        string
	userID        string
	correlationID string
}

// WithUser sets the principal on whose behalf the flow runs.
func WithUser(userID string) StartOption {
	return func(o *startOptions) { o.userID = userID }
}

// WithCorrelation tags the instance with a correlation identifier.
func WithCorrelation(correlationID string) StartOption {
	return func(o *startOptions) { o.correlationID = correlationID }
}

// WithFlowID pins the instance identifier instead of generating one.
func WithFlowID(flowID string) StartOption {
	return func(o *startOptions) { o.flowID = flowID }
}

// Runtime drives flow instances: starting, firing, resuming, cancelling and
// querying them.
type Runtime struct {
	service *Service

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newRuntime(s *Service) *Runtime {
	return &Runtime{service: s, active: make(map[string]context.CancelFunc)}
}

// Start creates an instance of a registered flow type and drives it
// synchronously to its next paused or terminal status.
func (r *Runtime) Start(ctx context.Context, flowType string, initial map[string]interface{}, options ...StartOption) (*model.Summary, error) {
	flow, err := r.create(ctx, flowType, initial, options...)
	if err != nil {
		return nil, err
	}
	return r.runBlocking(ctx, flow)
}

// Fire creates an instance and submits it through the engine queue without
// waiting; the flow identifier is returned immediately. Submissions that
// find no free execution slot are redelivered. Requires a started engine.
func (r *Runtime) Fire(ctx context.Context, flowType string, initial map[string]interface{}, options ...StartOption) (string, error) {
	flow, err := r.create(ctx, flowType, initial, options...)
	if err != nil {
		return "", err
	}
	if err := r.service.submissions.Publish(ctx, &submission{FlowID: flow.FlowID, Cause: "fire"}); err != nil {
		return "", fmt.Errorf("flowgrid: enqueue submission: %w", err)
	}
	return flow.FlowID, nil
}

func (r *Runtime) create(ctx context.Context, flowType string, initial map[string]interface{}, options ...StartOption) (*model.FlowDefinition, error) {
	if _, err := r.service.registry.Lookup(flowType); err != nil {
		return nil, err
	}
	var so startOptions
	for _, option := range options {
		option(&so)
	}
	if err := r.service.authorizer.AuthorizeFlow(so.userID, flowType); err != nil {
		return nil, err
	}
	if so.flowID == "" {
		so.flowID = idgen.New()
	}
	flow := model.NewFlowDefinition(so.flowID, flowType, initial)
	flow.UserID = so.userID
	flow.CorrelationID = so.correlationID
	flow.SetStatus(model.StatusReady)
	if err := r.service.flowDAO.Save(ctx, flow); err != nil {
		return nil, fmt.Errorf("flowgrid: persist new flow: %w", err)
	}
	r.service.logger.Info("flow created",
		zap.String("flowId", flow.FlowID),
		zap.String("flowType", flowType),
		zap.String("userId", so.userID))
	return flow, nil
}

// Resume wakes a paused flow and drives it synchronously to its next paused
// or terminal status. Resuming an already-running flow returns its current
// summary; resuming a terminal flow fails with ErrNotResumable.
func (r *Runtime) Resume(ctx context.Context, flowID string) (*model.Summary, error) {
	flow, flipped, err := r.markReady(ctx, flowID, "resume requested")
	if err != nil {
		return nil, err
	}
	if !flipped {
		return flow.Summarize(), nil
	}
	return r.runBlocking(ctx, flow)
}

// ResumeManually resumes a paused flow on behalf of a caller after an
// authorization check. Manual resume is always permitted regardless of the
// flow's automatic triggers; the reason is kept in the audit log.
func (r *Runtime) ResumeManually(ctx context.Context, flowID, userID, reason string) (*model.Summary, error) {
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if err := r.service.authorizer.AuthorizeFlow(userID, flow.FlowType); err != nil {
		return nil, err
	}
	r.service.logger.Info("manual resume",
		zap.String("flowId", flowID),
		zap.String("userId", userID),
		zap.String("reason", reason))
	return r.Resume(ctx, flowID)
}

// markReady flips a paused flow to ready under the version check so exactly
// one of several concurrent resume attempts proceeds. flipped reports
// whether this caller owns the execution.
func (r *Runtime) markReady(ctx context.Context, flowID, cause string) (*model.FlowDefinition, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		flow, err := r.service.flowDAO.Load(ctx, flowID)
		if err != nil {
			return nil, false, err
		}
		switch flow.GetStatus() {
		case model.StatusPaused:
		case model.StatusReady:
			// A previous resume flipped the status but never ran, or the
			// dispatcher has not picked it up yet; take it over.
			return flow, true, nil
		case model.StatusRunning, model.StatusInitializing:
			return flow, false, nil
		default:
			return flow, false, fmt.Errorf("%w: flow %s is %s", ErrNotResumable, flowID, flow.GetStatus())
		}

		flow.SetStatus(model.StatusReady)
		err = r.service.flowDAO.Save(ctx, flow)
		if err == nil {
			r.service.logger.Info("flow resumed",
				zap.String("flowId", flowID), zap.String("cause", cause))
			return flow, true, nil
		}
		if !errors.Is(err, dao.ErrVersionConflict) {
			return nil, false, err
		}
	}
	// Lost the race twice; whoever won owns the execution.
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	return flow, false, err
}

// resumeDetached flips a paused flow and hands it to the dispatcher; used
// by the auto-resume worker and the event subscription.
func (r *Runtime) resumeDetached(ctx context.Context, flowID, cause string) error {
	flow, flipped, err := r.markReady(ctx, flowID, cause)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	return r.service.submissions.Publish(ctx, &submission{FlowID: flow.FlowID, Cause: cause})
}

// Cancel stops a flow on behalf of a caller: an in-process execution is
// interrupted through its context, and the stored instance is marked
// cancelled so executions in other processes observe it on their next
// persisted write. Cancelling a terminal flow is a no-op.
func (r *Runtime) Cancel(ctx context.Context, flowID, userID, reason string) error {
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return err
	}
	if err := r.service.authorizer.AuthorizeFlow(userID, flow.FlowType); err != nil {
		return err
	}

	r.mu.Lock()
	cancel, running := r.active[flowID]
	r.mu.Unlock()
	if running {
		cancel()
	}

	for attempt := 0; attempt < 3; attempt++ {
		if flow.GetStatus().IsTerminal() {
			return nil
		}
		flow.MarkCancelled(reason)
		err = r.service.flowDAO.Save(ctx, flow)
		if err == nil {
			r.service.logger.Info("flow cancelled",
				zap.String("flowId", flowID),
				zap.String("userId", userID),
				zap.String("reason", reason))
			return nil
		}
		if !errors.Is(err, dao.ErrVersionConflict) {
			return err
		}
		if flow, err = r.service.flowDAO.Load(ctx, flowID); err != nil {
			return err
		}
	}
	return fmt.Errorf("flowgrid: cancel flow %s: persistent version conflicts", flowID)
}

// GetStatus returns the caller-facing view of a flow instance after an
// authorization check against its flow type.
func (r *Runtime) GetStatus(ctx context.Context, flowID, userID string) (*model.Summary, error) {
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if err := r.service.authorizer.AuthorizeFlow(userID, flow.FlowType); err != nil {
		return nil, err
	}
	return flow.Summarize(), nil
}

// Query lists flow instances filtered by the given parameters; see the
// criteria package for the recognised names. Flow types the caller is not
// authorized for are omitted from the result.
func (r *Runtime) Query(ctx context.Context, userID string, parameters ...*dao.Parameter) ([]*model.Summary, error) {
	flows, err := r.service.flowDAO.List(ctx, parameters...)
	if err != nil {
		return nil, err
	}
	summaries := make([]*model.Summary, 0, len(flows))
	for _, flow := range flows {
		if r.service.authorizer.AuthorizeFlow(userID, flow.FlowType) != nil {
			continue
		}
		summaries = append(summaries, flow.Summarize())
	}
	return summaries, nil
}

// StepRecords returns the tracked execution attempts of a flow, oldest
// first.
func (r *Runtime) StepRecords(ctx context.Context, flowID string) ([]*tracker.Record, error) {
	return r.service.tracker.Records(ctx, flowID)
}

// PublishEvent publishes an event on the engine fabric; paused flows whose
// resume policy matches are woken by the engine's own subscription. The
// publisher and correlation identifiers are stamped on the event for
// subscribers and the audit trail.
func (r *Runtime) PublishEvent(ctx context.Context, eventType string, payload interface{}, publishedBy, correlationID string) error {
	evt := event.NewEvent(eventType, payload).
		WithPublisher(publishedBy).
		WithCorrelation(correlationID)
	return r.service.events.Publish(ctx, evt)
}

// onEvent is the engine's resume subscription handler. Resume failures are
// logged rather than returned: redelivering the event would wake the same
// flows again without fixing the underlying fault.
func (r *Runtime) onEvent(ctx context.Context, evt *event.Event) error {
	paused, err := r.service.flowDAO.List(ctx,
		dao.NewParameter(criteria.ParamStatus, string(model.StatusPaused)))
	if err != nil {
		return err
	}
	for _, flow := range paused {
		cfg := worker.ResolveResumeConfig(flow, r.service.registry)
		if cfg == nil || !cfg.MatchesEvent(evt.Type, evt.Payload) {
			continue
		}
		if err := r.resumeDetached(ctx, flow.FlowID, "event "+evt.Type); err != nil {
			r.service.logger.Warn("event resume failed",
				zap.String("flowId", flow.FlowID),
				zap.String("eventType", evt.Type),
				zap.Error(err))
		}
	}
	return nil
}

// recoverFlow re-drives an orphaned running flow. Step states and the
// tracker make re-entry idempotent: finished steps stay finished, the
// interrupted step reruns.
func (r *Runtime) recoverFlow(ctx context.Context, flowID string) error {
	if r.isActive(flowID) {
		return nil
	}
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return err
	}
	if flow.GetStatus() != model.StatusRunning {
		return nil
	}
	return r.runDetached(ctx, flow)
}

// runSubmission executes one queued submission. ErrNoSlot propagates so
// the dispatcher nacks for redelivery.
func (r *Runtime) runSubmission(ctx context.Context, flowID string) error {
	if r.isActive(flowID) {
		return nil
	}
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return err
	}
	if flow.GetStatus() != model.StatusReady {
		return nil
	}
	return r.runDetached(ctx, flow)
}

// runDetached claims a slot synchronously, then executes in the
// background; ErrNoSlot is returned before any state changes.
func (r *Runtime) runDetached(ctx context.Context, flow *model.FlowDefinition) error {
	flowType, err := r.service.registry.Lookup(flow.FlowType)
	if err != nil {
		return err
	}
	release, err := r.service.limiter.Acquire(flow.FlowID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.track(flow.FlowID, cancel)
	go func() {
		defer release()
		defer cancel()
		defer r.untrack(flow.FlowID)
		r.service.collectors.ActiveFlows.Inc()
		defer r.service.collectors.ActiveFlows.Dec()
		outcome, err := r.service.executor.Execute(runCtx, flow, flowType)
		if err != nil {
			r.service.logger.Warn("detached execution failed",
				zap.String("flowId", flow.FlowID), zap.Error(err))
			return
		}
		r.afterOutcome(runCtx, flow, outcome)
	}()
	return nil
}

// runBlocking claims a slot and drives the flow in the calling goroutine.
func (r *Runtime) runBlocking(ctx context.Context, flow *model.FlowDefinition) (*model.Summary, error) {
	flowType, err := r.service.registry.Lookup(flow.FlowType)
	if err != nil {
		return nil, err
	}
	release, err := r.service.limiter.Acquire(flow.FlowID)
	if err != nil {
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.track(flow.FlowID, cancel)
	defer r.untrack(flow.FlowID)

	r.service.collectors.ActiveFlows.Inc()
	defer r.service.collectors.ActiveFlows.Dec()

	outcome, err := r.service.executor.Execute(runCtx, flow, flowType)
	if err != nil {
		return flow.Summarize(), err
	}
	r.afterOutcome(runCtx, flow, outcome)
	switch outcome.Status {
	case model.StatusFailed:
		return flow.Summarize(), outcome.Err
	case model.StatusCancelled:
		return flow.Summarize(), executor.ErrCancelled
	}
	return flow.Summarize(), nil
}

// afterOutcome applies post-execution effects: a flow paused for manual
// approval gets a pending approval request filed.
func (r *Runtime) afterOutcome(ctx context.Context, flow *model.FlowDefinition, outcome *executor.Outcome) {
	if outcome.Status != model.StatusPaused || flow.PauseReason != model.PauseManualApproval {
		return
	}
	request := &approval.Request{
		FlowID:        flow.FlowID,
		FlowType:      flow.FlowType,
		StepName:      flow.CurrentStepName,
		Message:       flow.PauseMessage,
		RequestedBy:   flow.UserID,
		CorrelationID: flow.CorrelationID,
	}
	if _, err := r.service.approvals.RequestApproval(ctx, request); err != nil {
		r.service.logger.Warn("filing approval request failed",
			zap.String("flowId", flow.FlowID), zap.Error(err))
	}
}

// Decide resolves a pending approval request: approval resumes the flow on
// behalf of the decider, rejection cancels it.
func (r *Runtime) Decide(ctx context.Context, requestID string, approved bool, reason, userID string) (*model.Summary, error) {
	request, err := r.service.approvals.Decide(ctx, requestID, &approval.Decision{
		Approved:  approved,
		Reason:    reason,
		DecidedBy: userID,
	})
	if err != nil {
		return nil, err
	}
	if approved {
		return r.ResumeManually(ctx, request.FlowID, userID, reason)
	}
	if reason == "" {
		reason = "approval rejected"
	}
	if err := r.Cancel(ctx, request.FlowID, userID, reason); err != nil {
		return nil, err
	}
	return r.GetStatus(ctx, request.FlowID, userID)
}

// Progress reports the aggregated step counters of a flow instance.
func (r *Runtime) Progress(ctx context.Context, flowID string) (progress.Snapshot, error) {
	flow, err := r.service.flowDAO.Load(ctx, flowID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	flowType, err := r.service.registry.Lookup(flow.FlowType)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return progress.Of(flow, flowType), nil
}

func (r *Runtime) track(flowID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.active[flowID] = cancel
	r.mu.Unlock()
}

func (r *Runtime) untrack(flowID string) {
	r.mu.Lock()
	delete(r.active, flowID)
	r.mu.Unlock()
}

func (r *Runtime) isActive(flowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[flowID]
	return ok
}
