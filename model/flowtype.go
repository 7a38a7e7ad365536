package model

import "fmt"

// FlowType is the reusable definition of a multi-step process. It is built
// once, validated at registration and shared - immutable - across all
// running instances.
type FlowType struct {
	// Name uniquely identifies the flow type.
	Name string

	// Description provides a human-readable summary.
	Description string

	// Version tags the definition; informational only.
	Version string

	// Steps is the full step set of the flow.
	Steps []*FlowStep

	graph *Graph
	steps map[string]*FlowStep
}

// NewFlowType creates a flow type definition.
func NewFlowType(name string, steps ...*FlowStep) *FlowType {
	return &FlowType{Name: name, Steps: steps}
}

// AddStep appends a step; only valid before Build.
func (t *FlowType) AddStep(step *FlowStep) *FlowType {
	t.Steps = append(t.Steps, step)
	return t
}

// Build links and validates the dependency graph. It must be called once
// before the first execution; calling it again is a no-op.
func (t *FlowType) Build() error {
	if t.graph != nil {
		return nil
	}
	if t.Name == "" {
		return fmt.Errorf("%w: flow type with empty name", ErrInvalidGraph)
	}
	graph, err := BuildGraph(t.Steps)
	if err != nil {
		return fmt.Errorf("flow type %q: %w", t.Name, err)
	}
	t.graph = graph
	t.steps = make(map[string]*FlowStep, len(t.Steps))
	for _, step := range t.Steps {
		t.steps[step.Name] = step
	}
	return nil
}

// Graph returns the validated dependency graph; nil before Build.
func (t *FlowType) Graph() *Graph {
	return t.graph
}

// Step returns a step definition by name.
func (t *FlowType) Step(name string) *FlowStep {
	return t.steps[name]
}
