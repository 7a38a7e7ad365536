package flowgrid

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/logging"
	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/approval"
	approvalmem "github.com/flowgrid/flowgrid/service/approval/memory"
	"github.com/flowgrid/flowgrid/service/auth"
	"github.com/flowgrid/flowgrid/service/dao"
	flowmem "github.com/flowgrid/flowgrid/service/dao/flow/memory"
	"github.com/flowgrid/flowgrid/service/event"
	"github.com/flowgrid/flowgrid/service/executor"
	"github.com/flowgrid/flowgrid/service/limiter"
	"github.com/flowgrid/flowgrid/service/messaging/memory"
	"github.com/flowgrid/flowgrid/service/middleware"
	"github.com/flowgrid/flowgrid/service/registry"
	"github.com/flowgrid/flowgrid/service/tracker"
	"github.com/flowgrid/flowgrid/service/worker"
)

// resumeSubscription is the engine's own event subscription that wakes
// paused flows on matching events.
const resumeSubscription = "engine-resume"

// Service is the engine: it owns the flow-type registry, the persistence
// and tracking backends, the middleware pipeline, the event fabric and the
// background workers. Construct it with New, register flow types, then
// drive flows through the Runtime.
type Service struct {
	config Config
	logger *zap.Logger

	flowDAO    dao.Service[string, model.FlowDefinition]
	tracker    tracker.Service
	authorizer auth.Authorizer
	limiter    *limiter.Service
	registry   *registry.Service
	events     *event.Service
	approvals  approval.Service

	metricsRegisterer prometheus.Registerer
	collectors        *middleware.Collectors

	executor     *executor.Service
	stepListener executor.Listener
	runtime      *Runtime

	submissions *memory.Queue[submission]

	autoResume *worker.TickWorker
	recovery   *worker.TickWorker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// submission is a fire-and-forget execution request routed through the
// engine's queue; redelivery retries flows that found no free slot.
type submission struct {
	FlowID string `json:"flowId"`
	Cause  string `json:"cause"`
}

// New assembles an engine; defaults cover every unset dependency so
// New() alone yields a fully working in-memory engine.
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:   DefaultConfig(),
		registry: registry.New(),
	}
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureBaseSetup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) ensureBaseSetup() error {
	if s.logger == nil {
		logger, err := logging.New(s.config.LogLevel)
		if err != nil {
			return fmt.Errorf("engine: build logger: %w", err)
		}
		s.logger = logger
	}
	if s.flowDAO == nil {
		s.flowDAO = flowmem.New()
	}
	if s.tracker == nil {
		s.tracker = tracker.NewMemory()
	}
	if s.authorizer == nil {
		s.authorizer = auth.Permissive{}
	}
	if s.limiter == nil {
		s.limiter = limiter.New(s.config.MaxConcurrentFlows)
	}
	if s.events == nil {
		s.events = event.New(event.WithLogger(s.logger))
	}
	if s.approvals == nil {
		s.approvals = approvalmem.New()
	}
	if s.metricsRegisterer == nil {
		s.metricsRegisterer = prometheus.NewRegistry()
	}
	s.collectors = middleware.NewCollectors(s.metricsRegisterer)
	s.submissions = memory.NewQueue[submission](memory.DefaultConfig())

	pipeline := middleware.Chain(s.executeStep,
		middleware.Logging(s.logger),
		middleware.Security(s.authorizer),
		middleware.Validation(),
		middleware.Checkpoint(s.saveFlow),
		middleware.Metrics(s.collectors),
		middleware.Retry(),
		middleware.Timeout(),
	)

	exec, err := executor.New(s.flowDAO, s.tracker, pipeline,
		executor.WithLogger(s.logger),
		executor.WithListener(s.stepListener),
		executor.WithTrigger(s.submitTriggered),
	)
	if err != nil {
		return err
	}
	s.executor = exec
	s.runtime = newRuntime(s)
	return nil
}

// executeStep is the innermost pipeline stage: it invokes the step's own
// function.
func (s *Service) executeStep(ctx context.Context, sc *middleware.StepContext) (*model.StepResult, error) {
	return sc.Step.Execute(ctx, sc.Flow)
}

// saveFlow persists an instance, absorbing version conflicts with fresh
// reads; parallel steps checkpoint the same instance concurrently, so a
// handful of collisions is normal. A conflict caused by an external
// cancellation surfaces as a cancelled context error downstream.
func (s *Service) saveFlow(ctx context.Context, flow *model.FlowDefinition) error {
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
			return context.Canceled
		}
		flow.SetVersion(stored.Version)
	}
	return err
}

// submitTriggered enqueues a fire-and-forget child flow; failures are
// logged and never reach the trigger flow.
func (s *Service) submitTriggered(flowType string, initial map[string]interface{}, userID, correlationID string) {
	_, err := s.runtime.Fire(context.Background(), flowType, initial,
		WithUser(userID), WithCorrelation(correlationID))
	if err != nil {
		s.logger.Warn("triggered flow submission failed",
			zap.String("flowType", flowType),
			zap.String("correlationId", correlationID),
			zap.Error(err))
	}
}

// Register adds a flow type; its step graph is built and validated here.
func (s *Service) Register(flowType *model.FlowType) error {
	return s.registry.Register(flowType)
}

// Runtime exposes the flow operations of the engine.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// Events exposes the engine's event fabric for external subscribers.
func (s *Service) Events() *event.Service {
	return s.events
}

// Approvals exposes the manual-approval store.
func (s *Service) Approvals() approval.Service {
	return s.approvals
}

// LimiterStatus reports the execution slot usage.
func (s *Service) LimiterStatus() limiter.Snapshot {
	return s.limiter.Status()
}

// SubmissionStats reports the fire-and-forget queue backlog and its
// cumulative redelivery and dead-letter counters.
func (s *Service) SubmissionStats() memory.Stats {
	return s.submissions.Stats()
}

// Start launches the background machinery: the fire-and-forget dispatcher,
// the resume subscription and the auto-resume and recovery sweeps.
// Flows can be driven synchronously without Start; only queued submissions,
// event resumes and the periodic sweeps require it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.events.Subscribe(resumeSubscription, s.runtime.onEvent); err != nil {
		s.cancel()
		return err
	}

	go s.dispatch(ctx)

	autoResume := worker.NewAutoResume(s.flowDAO, s.registry, s.runtime.resumeDetached, s.logger)
	s.autoResume = worker.NewTickWorker("auto-resume", s.config.AutoResumeInterval, autoResume.Sweep, s.logger)
	s.autoResume.Start(ctx)

	recovery := worker.NewRecovery(s.flowDAO, s.config.HeartbeatStaleAfter, s.runtime.recoverFlow, s.logger)
	s.recovery = worker.NewTickWorker("recovery", s.config.RecoveryInterval, recovery.Sweep, s.logger)
	s.recovery.Start(ctx)

	s.started = true
	s.logger.Info("engine started",
		zap.Int("maxConcurrentFlows", s.config.MaxConcurrentFlows))
	return nil
}

// dispatch consumes queued fire-and-forget submissions. A submission that
// finds no free execution slot is nacked so the queue redelivers it after
// the redelivery delay.
func (s *Service) dispatch(ctx context.Context) {
	for {
		msg, err := s.submissions.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("submission consume failed", zap.Error(err))
			continue
		}
		sub := msg.T()
		if err := s.runtime.runSubmission(ctx, sub.FlowID); err != nil {
			if errors.Is(err, limiter.ErrNoSlot) {
				_ = msg.Nack(err)
				continue
			}
			s.logger.Warn("submission failed",
				zap.String("flowId", sub.FlowID), zap.Error(err))
		}
		_ = msg.Ack()
	}
}

// Shutdown stops the background machinery; in-flight synchronous flows are
// not interrupted.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	s.autoResume.Stop()
	s.recovery.Stop()
	s.events.Unsubscribe(resumeSubscription)
	s.started = false
	stats := s.submissions.Stats()
	s.logger.Info("engine stopped",
		zap.Int("queuedSubmissions", stats.Depth),
		zap.Int("deadLetteredSubmissions", stats.DeadLettered))
}
