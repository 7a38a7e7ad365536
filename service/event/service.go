package event

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/internal/idgen"
	"github.com/flowgrid/flowgrid/service/messaging"
	"github.com/flowgrid/flowgrid/service/messaging/memory"
)

// Option customises the event service.
type Option func(*Service)

// WithQueueFactory overrides the per-subscription queue constructor.
func WithQueueFactory(factory func(name string) messaging.Queue[Event]) Option {
	return func(s *Service) { s.newQueue = factory }
}

// WithLogger overrides the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service fans published events out to every active subscription, each
// backed by its own queue.
type Service struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	newQueue      func(name string) messaging.Queue[Event]
	logger        *zap.Logger
}

// New creates an event service backed by in-memory queues unless a queue
// factory option says otherwise.
func New(options ...Option) *Service {
	s := &Service{
		subscriptions: make(map[string]*Subscription),
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	if s.newQueue == nil {
		s.newQueue = func(name string) messaging.Queue[Event] {
			return memory.NewQueue[Event](memory.DefaultConfig())
		}
	}
	return s
}

// Publish stamps the event and delivers it to every subscription. Delivery
// is at-least-once per subscription; a failed publish to one subscription
// does not stop the others.
func (s *Service) Publish(ctx context.Context, event *Event) error {
	if event == nil || event.Type == "" {
		return fmt.Errorf("event: type is required")
	}
	if event.ID == "" {
		event.ID = idgen.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = clock.Now()
	}

	s.mu.RLock()
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.queue.Publish(ctx, event); err != nil {
			s.logger.Warn("event publish failed",
				zap.String("subscription", sub.name),
				zap.String("eventType", event.Type),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.logger.Debug("event published",
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type),
		zap.Int("subscriptions", len(subs)))
	return firstErr
}

// Subscribe registers a named consumer; the handler starts receiving every
// event published after registration.
func (s *Service) Subscribe(name string, handler Handler) (*Subscription, error) {
	if name == "" || handler == nil {
		return nil, fmt.Errorf("event: subscription name and handler are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subscriptions[name]; exists {
		return nil, fmt.Errorf("event: subscription %q already registered", name)
	}
	sub := newSubscription(name, s.newQueue(name), handler, s.logger)
	s.subscriptions[name] = sub
	return sub, nil
}

// Unsubscribe stops and removes a subscription; unknown names are ignored.
func (s *Service) Unsubscribe(name string) {
	s.mu.Lock()
	sub, ok := s.subscriptions[name]
	delete(s.subscriptions, name)
	s.mu.Unlock()
	if ok {
		sub.Stop()
	}
}

// Shutdown stops every subscription.
func (s *Service) Shutdown() {
	s.mu.Lock()
	subs := s.subscriptions
	s.subscriptions = make(map[string]*Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
}
