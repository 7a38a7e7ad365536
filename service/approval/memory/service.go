// Package memory provides the in-process approval store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowgrid/flowgrid/internal/clock"
	"github.com/flowgrid/flowgrid/internal/idgen"
	"github.com/flowgrid/flowgrid/service/approval"
	"github.com/flowgrid/flowgrid/service/messaging"
	queuemem "github.com/flowgrid/flowgrid/service/messaging/memory"
)

// Service is the in-memory approval store with a memory announcement queue.
type Service struct {
	mu       sync.RWMutex
	requests map[string]*approval.Request
	byFlow   map[string]string
	queue    messaging.Queue[approval.Event]
}

var _ approval.Service = (*Service)(nil)

// New creates an empty approval store.
func New() *Service {
	return &Service{
		requests: map[string]*approval.Request{},
		byFlow:   map[string]string{},
		queue:    queuemem.NewQueue[approval.Event](queuemem.DefaultConfig()),
	}
}

// RequestApproval files a pending request, deduplicated per flow.
func (s *Service) RequestApproval(ctx context.Context, r *approval.Request) (*approval.Request, error) {
	if r == nil || r.FlowID == "" {
		return nil, fmt.Errorf("approval: request with flow id is required")
	}
	s.mu.Lock()
	if id, ok := s.byFlow[r.FlowID]; ok {
		if pending := s.requests[id]; pending.Pending() {
			s.mu.Unlock()
			return pending, nil
		}
	}
	if r.ID == "" {
		r.ID = idgen.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = clock.Now()
	}
	s.requests[r.ID] = r
	s.byFlow[r.FlowID] = r.ID
	s.mu.Unlock()

	_ = s.queue.Publish(ctx, &approval.Event{Topic: approval.TopicRequestCreated, Request: r})
	return r, nil
}

// ListPending returns undecided requests, oldest first.
func (s *Service) ListPending(_ context.Context) ([]*approval.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*approval.Request
	for _, r := range s.requests {
		if r.Pending() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Decide records the outcome of a pending request.
func (s *Service) Decide(ctx context.Context, id string, decision *approval.Decision) (*approval.Request, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	if !r.Pending() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", approval.ErrAlreadyDecided, id)
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = clock.Now()
	}
	r.Decision = decision
	s.mu.Unlock()

	_ = s.queue.Publish(ctx, &approval.Event{Topic: approval.TopicDecisionCreated, Request: r})
	return r, nil
}

// Queue exposes the announcement queue.
func (s *Service) Queue() messaging.Queue[approval.Event] {
	return s.queue
}
