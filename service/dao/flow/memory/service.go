// Package memory implements the in-memory reference flow store. It is
// development-only: state does not survive a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/flowgrid/flowgrid/model"
	"github.com/flowgrid/flowgrid/service/dao"
	"github.com/flowgrid/flowgrid/service/dao/criteria"
)

// Service is a thread-safe in-memory flow store with optimistic-concurrency
// writes: Save succeeds only when the caller's version matches the stored
// one, then increments it. Stored documents are snapshots; Load and List
// hand out isolated copies so a stale copy is rejected on its next Save.
type Service struct {
	flows map[string]*model.FlowDefinition
	mux   sync.RWMutex
}

var _ dao.Service[string, model.FlowDefinition] = (*Service)(nil)

// New creates an empty in-memory flow store.
func New() *Service {
	return &Service{flows: map[string]*model.FlowDefinition{}}
}

// Save performs a compare-and-swap write keyed on the flow version. The
// caller's instance observes the assigned version; later mutations of it
// are invisible to readers until the next Save.
func (s *Service) Save(_ context.Context, flow *model.FlowDefinition) error {
	if flow == nil {
		return dao.ErrNilEntity
	}
	if flow.FlowID == "" {
		return dao.ErrInvalidID
	}

	// Snapshot under the flow's own lock so concurrent step writes cannot
	// tear the stored document.
	snapshot := flow.Clone()

	s.mux.Lock()
	defer s.mux.Unlock()

	existing, ok := s.flows[flow.FlowID]
	if ok && existing.Version != snapshot.Version {
		return dao.ErrVersionConflict
	}
	snapshot.Version++
	s.flows[flow.FlowID] = snapshot
	flow.SetVersion(snapshot.Version)
	return nil
}

// Load retrieves an isolated copy of a flow by id.
func (s *Service) Load(_ context.Context, id string) (*model.FlowDefinition, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	flow, ok := s.flows[id]
	s.mux.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return flow.Clone(), nil
}

// Delete removes a flow by id.
func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.flows[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.flows, id)
	return nil
}

// List returns isolated copies of the flows matching the parameters,
// newest first, paginated.
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*model.FlowDefinition, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*model.FlowDefinition, 0, len(s.flows))
	for _, flow := range s.flows {
		if !criteria.Matches(flow, parameters) {
			continue
		}
		out = append(out, flow)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	out = criteria.Paginate(out, parameters)

	copies := make([]*model.FlowDefinition, 0, len(out))
	for _, flow := range out {
		copies = append(copies, flow.Clone())
	}
	return copies, nil
}
