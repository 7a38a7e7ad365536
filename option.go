package flowgrid

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/approval"
	"github.com/flowgrid/flowgrid/service/auth"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/event"
	"github.com/flowgrid/flowgrid/service/executor"
	"github.com/flowgrid/flowgrid/service/limiter"
	"github.com/flowgrid/flowgrid/service/tracker"
)

// Option customises the engine at construction.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.config = cfg }
}

// WithFlowDAO plugs a persistence backend for flow instances.
func WithFlowDAO(flowDAO dao.Service[string, model.FlowDefinition]) Option {
	return func(s *Service) { s.flowDAO = flowDAO }
}

// WithTracker plugs a step-execution tracking backend.
func WithTracker(t tracker.Service) Option {
	return func(s *Service) { s.tracker = t }
}

// WithAuthorizer plugs the security policy applied to flow starts, step
// executions and manual resumes.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(s *Service) { s.authorizer = a }
}

// WithLimiter replaces the concurrency limiter built from the
// configuration.
func WithLimiter(l *limiter.Service) Option {
	return func(s *Service) { s.limiter = l }
}

// WithLogger replaces the default logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetricsRegisterer registers the engine instruments on the given
// prometheus registerer instead of a private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.metricsRegisterer = reg }
}

// WithApprovalService plugs a manual-approval store; the in-memory store is
// the default.
func WithApprovalService(a approval.Service) Option {
	return func(s *Service) { s.approvals = a }
}

// WithEventService plugs a shared event fabric; by default the engine owns
// a private one.
func WithEventService(events *event.Service) Option {
	return func(s *Service) { s.events = events }
}

// WithStepListener attaches an observer invoked after every finished step
// attempt.
func WithStepListener(l executor.Listener) Option {
	return func(s *Service) { s.stepListener = l }
}
