// Package registry holds the flow-type definitions known to the engine.
// Registration builds and validates each step graph exactly once; the
// stored definitions are immutable afterwards.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flowgrid/flowgrid/model"
)

// ErrUnknownFlowType is returned when looking up an unregistered type.
var ErrUnknownFlowType = errors.New("registry: unknown flow type")

// Service is the thread-safe flow-type registry.
type Service struct {
	flowTypes map[string]*model.FlowType
	mux       sync.RWMutex
}

// New creates an empty registry.
func New() *Service {
	return &Service{flowTypes: make(map[string]*model.FlowType)}
}

// Register validates the flow type's step graph and stores the definition.
// Duplicate names and invalid graphs are rejected.
func (s *Service) Register(flowType *model.FlowType) error {
	if flowType == nil {
		return fmt.Errorf("registry: nil flow type")
	}
	if err := flowType.Build(); err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, exists := s.flowTypes[flowType.Name]; exists {
		return fmt.Errorf("registry: flow type %q already registered", flowType.Name)
	}
	s.flowTypes[flowType.Name] = flowType
	return nil
}

// Lookup returns a registered flow type.
func (s *Service) Lookup(name string) (*model.FlowType, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	flowType, ok := s.flowTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlowType, name)
	}
	return flowType, nil
}

// Names returns the registered flow type names.
func (s *Service) Names() []string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	names := make([]string, 0, len(s.flowTypes))
	for name := range s.flowTypes {
		names = append(names, name)
	}
	return names
}
