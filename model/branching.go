package model

import "fmt"

// ExecutionStrategy controls how dynamically generated sub-steps are
// scheduled.
type ExecutionStrategy string

const (
	// StrategyParallel runs all sub-steps concurrently, bounded only by
	// the global concurrency limit.
	StrategyParallel ExecutionStrategy = "parallel"

	// StrategyRoundRobin groups sub-steps by ResourceGroup and interleaves
	// one-per-group per round so load spreads evenly across external
	// resources.
	StrategyRoundRobin ExecutionStrategy = "roundRobin"

	// StrategySequential runs sub-steps one at a time, higher Priority
	// first, then ascending Index.
	StrategySequential ExecutionStrategy = "sequential"
)

// DynamicBranchingConfig fans a step out into one sub-step per item of a
// runtime collection.
type DynamicBranchingConfig struct {
	// Selector evaluates the live blackboard and returns the collection to
	// branch over.
	Selector func(flow *FlowDefinition) ([]interface{}, error)

	// Factory materialises one sub-step per item. The returned sub-step
	// name must derive deterministically from the parent name and the item
	// identity/index; SubStepName is the conventional helper.
	Factory func(parent *FlowStep, item interface{}, index int) (*FlowSubStep, error)

	Strategy ExecutionStrategy

	// MaxConcurrent caps in-flight sub-steps for the parallel strategy;
	// zero means no per-branch cap beyond the global limit.
	MaxConcurrent int
}

// SubStepName derives the deterministic name of a generated sub-step.
func SubStepName(parent string, index int) string {
	return fmt.Sprintf("%s[%d]", parent, index)
}
