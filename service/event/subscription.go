package event

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowgrid/flowgrid/service/messaging"
)

// Handler processes one delivered event. A non-nil error nacks the message
// so the queue redelivers it; handlers must therefore be idempotent.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a named consumer loop over its own queue; every
// subscription receives every published event.
type Subscription struct {
	name    string
	queue   messaging.Queue[Event]
	handler Handler
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSubscription(name string, queue messaging.Queue[Event], handler Handler, logger *zap.Logger) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		name:    name,
		queue:   queue,
		handler: handler,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.consume(ctx)
	return sub
}

func (s *Subscription) consume(ctx context.Context) {
	defer close(s.done)
	for {
		msg, err := s.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("event consume failed",
				zap.String("subscription", s.name), zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}
		if err := s.handler(ctx, msg.T()); err != nil {
			s.logger.Warn("event handler failed",
				zap.String("subscription", s.name),
				zap.String("eventType", msg.T().Type),
				zap.Error(err))
			_ = msg.Nack(err)
			continue
		}
		_ = msg.Ack()
	}
}

// Stop ends the consumer loop and waits for it to drain.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}
