package model

import (
	"context"
	"time"
)

// StepResult is the outcome of a single step execution.
type StepResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Output  interface{} `json:"output,omitempty"`
}

// Succeed returns a successful result with an optional message.
func Succeed(message string) *StepResult {
	return &StepResult{Success: true, Message: message}
}

// SucceedWith returns a successful result carrying an opaque payload.
func SucceedWith(message string, output interface{}) *StepResult {
	return &StepResult{Success: true, Message: message, Output: output}
}

// Fail returns a failed result with a message.
func Fail(message string) *StepResult {
	return &StepResult{Success: false, Message: message}
}

// StepFunc is the execution function of a step. It receives the flow
// context for side-effect access to the blackboard and returns a result or
// an error; a nil error with an unsuccessful result is treated as a failure.
type StepFunc func(ctx context.Context, flow *FlowDefinition) (*StepResult, error)

// DataDependency declares a blackboard key that must be present, with a
// matching dynamic type, before the step may start.
type DataDependency struct {
	Key string
	// Type is the expected dynamic type of the value; nil means any type.
	Type interface{}
}

// TriggeredFlow starts a child flow fire-and-forget once the owning step
// completes. Failures of the triggered flow never affect the trigger flow.
type TriggeredFlow struct {
	FlowType string
	// DeriveData maps the parent blackboard to the initial data of the
	// triggered flow. When nil the triggered flow starts with empty data.
	DeriveData func(parent *FlowDefinition) map[string]interface{}
}

// FlowStep is defined once per flow type and shared across all instances.
// Definitions are immutable once registered; only FlowDefinition state
// evolves at runtime.
type FlowStep struct {
	Name string

	// Execute performs the unit of work.
	Execute StepFunc

	// StepDependencies name the steps that must reach terminal success (or
	// allowed failure) before this step starts. They form a DAG validated
	// at registration.
	StepDependencies []string

	// DataDependencies name the blackboard keys required before start.
	DataDependencies []DataDependency

	CanRunInParallel bool

	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration

	// IsCritical forces a persistence checkpoint immediately after the
	// step completes.
	IsCritical bool

	// IsIdempotent allows the executor to reuse a prior successful result
	// for identical resolved inputs instead of re-executing.
	IsIdempotent bool

	// AllowFailure keeps the flow alive when this step exhausts retries.
	AllowFailure bool

	// JumpTo overrides the natural successor with an explicit target,
	// still subject to that step's own preconditions.
	JumpTo string

	// TriggeredFlows start fire-and-forget once this step completes.
	TriggeredFlows []TriggeredFlow

	// DynamicBranching fans this step out into runtime-generated
	// sub-steps.
	DynamicBranching *DynamicBranchingConfig

	// Branches are statically defined conditional branch sets.
	Branches []*FlowBranch

	// PauseCondition is evaluated after the step completes; a signal
	// transitions the flow into the paused status.
	PauseCondition PauseCondition

	// ResumeConfig is the resume policy captured when PauseCondition
	// fires.
	ResumeConfig *ResumeConfig
}

// NewStep creates a step with the given name and execution function.
func NewStep(name string, fn StepFunc) *FlowStep {
	return &FlowStep{Name: name, Execute: fn}
}

// WithDependsOn adds step dependencies.
func (s *FlowStep) WithDependsOn(names ...string) *FlowStep {
	s.StepDependencies = append(s.StepDependencies, names...)
	return s
}

// WithDataDependency adds a typed blackboard precondition.
func (s *FlowStep) WithDataDependency(key string, prototype interface{}) *FlowStep {
	s.DataDependencies = append(s.DataDependencies, DataDependency{Key: key, Type: prototype})
	return s
}

// WithParallel marks the step as eligible for concurrent execution.
func (s *FlowStep) WithParallel() *FlowStep {
	s.CanRunInParallel = true
	return s
}

// WithRetry sets the retry policy.
func (s *FlowStep) WithRetry(maxRetries int, delay time.Duration) *FlowStep {
	s.MaxRetries = maxRetries
	s.RetryDelay = delay
	return s
}

// WithTimeout sets the per-attempt timeout.
func (s *FlowStep) WithTimeout(timeout time.Duration) *FlowStep {
	s.Timeout = timeout
	return s
}

// WithCritical forces an immediate checkpoint after completion.
func (s *FlowStep) WithCritical() *FlowStep {
	s.IsCritical = true
	return s
}

// WithIdempotent enables cached-result reuse on identical inputs.
func (s *FlowStep) WithIdempotent() *FlowStep {
	s.IsIdempotent = true
	return s
}

// WithAllowFailure keeps the flow alive when this step fails terminally.
func (s *FlowStep) WithAllowFailure() *FlowStep {
	s.AllowFailure = true
	return s
}

// WithJumpTo overrides the natural successor.
func (s *FlowStep) WithJumpTo(target string) *FlowStep {
	s.JumpTo = target
	return s
}

// WithTriggeredFlow registers a fire-and-forget child flow.
func (s *FlowStep) WithTriggeredFlow(flowType string, derive func(parent *FlowDefinition) map[string]interface{}) *FlowStep {
	s.TriggeredFlows = append(s.TriggeredFlows, TriggeredFlow{FlowType: flowType, DeriveData: derive})
	return s
}

// WithDynamicBranching attaches a runtime fan-out configuration.
func (s *FlowStep) WithDynamicBranching(cfg *DynamicBranchingConfig) *FlowStep {
	s.DynamicBranching = cfg
	return s
}

// WithBranch attaches a statically defined conditional branch.
func (s *FlowStep) WithBranch(branch *FlowBranch) *FlowStep {
	s.Branches = append(s.Branches, branch)
	return s
}

// WithPause attaches a pause condition and its resume policy.
func (s *FlowStep) WithPause(condition PauseCondition, resume *ResumeConfig) *FlowStep {
	s.PauseCondition = condition
	s.ResumeConfig = resume
	return s
}

// FlowSubStep is a step instance generated dynamically from a runtime
// collection. Its name derives deterministically from the parent step and
// the source item so idempotency keys stay stable across retries and
// resumes.
type FlowSubStep struct {
	FlowStep

	// Priority orders sequential execution; higher runs first.
	Priority int

	// Index is the position of the source item within the collection.
	Index int

	// ResourceGroup buckets the sub-step for round-robin distribution
	// across external resources.
	ResourceGroup string

	// SourceData is the collection item this sub-step was generated from.
	SourceData interface{}

	EstimatedDuration time.Duration
}

// FlowBranch is a statically defined conditional branch: its steps run only
// when the condition holds against the live blackboard; otherwise they are
// recorded as skipped.
type FlowBranch struct {
	Name      string
	Condition func(flow *FlowDefinition) bool
	Steps     []*FlowStep
}
