package model

import (
	"fmt"
	"reflect"
	"sort"
)

// Node is one step in the dependency graph.
type Node struct {
	Step       *FlowStep
	InDegree   int
	DependsOn  []*Node
	Dependents []*Node
}

// Graph is the directed acyclic dependency graph of a flow type, built and
// validated once at registration.
type Graph struct {
	Nodes map[string]*Node

	// Order is the topologically sorted node list.
	Order []*Node
}

// BuildGraph links steps by their declared dependencies and verifies
// acyclicity via Kahn's algorithm. It fails on duplicate names, unknown
// dependencies and cycles.
func BuildGraph(steps []*FlowStep) (*Graph, error) {
	g := &Graph{Nodes: make(map[string]*Node, len(steps))}

	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("%w: step with empty name", ErrInvalidGraph)
		}
		if step.Execute == nil {
			return nil, fmt.Errorf("%w: step %q has no execution function", ErrInvalidGraph, step.Name)
		}
		if _, exists := g.Nodes[step.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate step name %q", ErrInvalidGraph, step.Name)
		}
		g.Nodes[step.Name] = &Node{Step: step}
	}

	for _, step := range steps {
		node := g.Nodes[step.Name]
		for _, dep := range step.StepDependencies {
			depNode, ok := g.Nodes[dep]
			if !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrMissingDependency, step.Name, dep)
			}
			g.addEdge(depNode, node)
		}
		if step.JumpTo != "" {
			if _, ok := g.Nodes[step.JumpTo]; !ok {
				return nil, fmt.Errorf("%w: step %q jumps to unknown step %q", ErrMissingDependency, step.Name, step.JumpTo)
			}
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

// addEdge links from → to, skipping duplicates so InDegree stays accurate.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Step.Name == from.Step.Name {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort runs Kahn's algorithm; an incomplete order means a cycle.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	var queue []*Node
	for name, node := range g.Nodes {
		inDegree[name] = node.InDegree
		if node.InDegree == 0 {
			queue = append(queue, node)
		}
	}
	// Deterministic order across runs.
	sort.Slice(queue, func(i, j int) bool { return queue[i].Step.Name < queue[j].Step.Name })

	order := make([]*Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, dependent := range node.Dependents {
			inDegree[dependent.Step.Name]--
			if inDegree[dependent.Step.Name] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}
	return order, nil
}

// Ready returns the steps whose dependencies are terminal-satisfied and
// whose data preconditions hold, in topological order. A failed dependency
// satisfies a dependent only when the dependency allows failure.
func (g *Graph) Ready(flow *FlowDefinition) ([]*FlowStep, error) {
	var ready []*FlowStep
	for _, node := range g.Order {
		if flow.StepState(node.Step.Name) != StepStatePending {
			continue
		}
		satisfied := true
		for _, dep := range node.DependsOn {
			if !DependencySatisfied(dep.Step, flow.StepState(dep.Step.Name)) {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		ok, err := DataSatisfied(node.Step, flow)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ready = append(ready, node.Step)
	}
	return ready, nil
}

// DependencySatisfied reports whether a dependency step in the given state
// unblocks its dependents.
func DependencySatisfied(dep *FlowStep, state StepState) bool {
	switch state {
	case StepStateCompleted, StepStateSkipped:
		return true
	case StepStateFailed:
		return dep.AllowFailure
	}
	return false
}

// DataSatisfied reports whether every data dependency of the step is
// present with a matching dynamic type. A present key with a mismatched
// type is a fatal validation error, not a scheduling wait.
func DataSatisfied(step *FlowStep, flow *FlowDefinition) (bool, error) {
	for _, dep := range step.DataDependencies {
		value, ok := flow.Get(dep.Key)
		if !ok {
			return false, nil
		}
		if dep.Type == nil {
			continue
		}
		expected := reflect.TypeOf(dep.Type)
		actual := reflect.TypeOf(value)
		if actual != expected {
			return false, fmt.Errorf("%w: step %q requires data key %q of type %v, found %v",
				ErrDataTypeMismatch, step.Name, dep.Key, expected, actual)
		}
	}
	return true, nil
}

// Ancestors returns the transitive dependencies of a step, the step
// excluded.
func (g *Graph) Ancestors(name string) map[string]bool {
	out := map[string]bool{}
	var walk func(node *Node)
	walk = func(node *Node) {
		for _, dep := range node.DependsOn {
			if !out[dep.Step.Name] {
				out[dep.Step.Name] = true
				walk(dep)
			}
		}
	}
	if node, ok := g.Nodes[name]; ok {
		walk(node)
	}
	return out
}

// Descendants returns the transitive dependents of a step, the step
// excluded.
func (g *Graph) Descendants(name string) map[string]bool {
	out := map[string]bool{}
	var walk func(node *Node)
	walk = func(node *Node) {
		for _, dep := range node.Dependents {
			if !out[dep.Step.Name] {
				out[dep.Step.Name] = true
				walk(dep)
			}
		}
	}
	if node, ok := g.Nodes[name]; ok {
		walk(node)
	}
	return out
}

// Complete reports whether every step reached a terminal state.
func (g *Graph) Complete(flow *FlowDefinition) bool {
	for name := range g.Nodes {
		if !flow.StepState(name).IsTerminal() {
			return false
		}
	}
	return true
}
