package model

import (
	"sync"
	"time"
)

// Status represents the lifecycle state of a flow instance.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether the status is final - a flow in a terminal
// status never transitions again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepState represents the per-instance execution state of a single step.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateFailed    StepState = "failed"
	StepStateSkipped   StepState = "skipped"
)

// IsTerminal reports whether the step state is final.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateCompleted, StepStateFailed, StepStateSkipped:
		return true
	}
	return false
}

// FlowDefinition is one running instance of a registered flow type. It holds
// the blackboard data shared between steps, the per-step execution states and
// the pause bookkeeping. All mutating accessors are safe for concurrent use;
// the executor's barrier scheduling additionally guarantees that no two
// sibling steps write the same Data key at the same time.
type FlowDefinition struct {
	FlowID        string `json:"flowId"`
	FlowType      string `json:"flowType"`
	UserID        string `json:"userId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	Status          Status     `json:"status"`
	CurrentStepName string     `json:"currentStepName,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	PausedAt        *time.Time `json:"pausedAt,omitempty"`
	LastHeartbeatAt time.Time  `json:"lastHeartbeatAt"`

	// Data is the blackboard shared between steps; keys are unique per flow.
	Data map[string]interface{} `json:"data,omitempty"`

	// StepStates tracks the terminal/non-terminal state of every scheduled
	// step so that a resumed or recovered flow re-enters exactly where it
	// left off.
	StepStates map[string]StepState `json:"stepStates,omitempty"`

	// Errors records step failures keyed by step name.
	Errors map[string]string `json:"errors,omitempty"`

	// PauseReason and PauseMessage are set only while Status is paused.
	PauseReason  PauseReason `json:"pauseReason,omitempty"`
	PauseMessage string      `json:"pauseMessage,omitempty"`

	// ActiveResumeConfig is the resume policy captured from the pausing
	// step. Predicates are code and do not survive serialisation; they are
	// rebound from the registered flow type on load.
	ActiveResumeConfig *ResumeConfig `json:"activeResumeConfig,omitempty"`

	// CancelReason is set when the flow is cancelled.
	CancelReason string `json:"cancelReason,omitempty"`

	// Version increments on every persisted write; stale writes are
	// rejected by the persistence layer.
	Version int `json:"version"`

	mu sync.RWMutex
}

// NewFlowDefinition creates a flow instance in the initializing status with
// pre-seeded blackboard data.
func NewFlowDefinition(flowID, flowType string, initial map[string]interface{}) *FlowDefinition {
	now := time.Now()
	data := make(map[string]interface{}, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &FlowDefinition{
		FlowID:          flowID,
		FlowType:        flowType,
		Status:          StatusInitializing,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
		Data:            data,
		StepStates:      make(map[string]StepState),
		Errors:          make(map[string]string),
	}
}

// Set adds or updates a blackboard value.
func (f *FlowDefinition) Set(key string, value interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Data == nil {
		f.Data = make(map[string]interface{})
	}
	f.Data[key] = value
}

// Get retrieves a blackboard value.
func (f *FlowDefinition) Get(key string) (interface{}, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.Data[key]
	return value, ok
}

// Snapshot returns a shallow copy of the blackboard.
func (f *FlowDefinition) Snapshot() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]interface{}, len(f.Data))
	for k, v := range f.Data {
		out[k] = v
	}
	return out
}

// GetStatus returns the flow status.
func (f *FlowDefinition) GetStatus() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Status
}

// SetStatus transitions the flow status and maintains lifecycle timestamps.
func (f *FlowDefinition) SetStatus(status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Status = status
	now := time.Now()
	f.UpdatedAt = now
	switch status {
	case StatusRunning:
		if f.StartedAt == nil {
			f.StartedAt = &now
		}
		f.PausedAt = nil
		f.PauseReason = ""
		f.PauseMessage = ""
		f.ActiveResumeConfig = nil
	case StatusPaused:
		f.PausedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		f.CompletedAt = &now
	}
}

// Pause transitions the flow into the paused status capturing the reason,
// the message and the resume policy of the pausing step.
func (f *FlowDefinition) Pause(reason PauseReason, message string, resume *ResumeConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.Status = StatusPaused
	f.PausedAt = &now
	f.UpdatedAt = now
	f.PauseReason = reason
	f.PauseMessage = message
	f.ActiveResumeConfig = resume
}

// SetCurrentStep records the step the executor is positioned at.
func (f *FlowDefinition) SetCurrentStep(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CurrentStepName = name
	f.UpdatedAt = time.Now()
}

// MarkCancelled transitions the flow into the cancelled status with a
// reason; an already-set reason wins.
func (f *FlowDefinition) MarkCancelled(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.Status = StatusCancelled
	if f.CancelReason == "" {
		f.CancelReason = reason
	}
	f.CompletedAt = &now
	f.UpdatedAt = now
}

// StepState returns the recorded state of a step, defaulting to pending.
func (f *FlowDefinition) StepState(name string) StepState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if state, ok := f.StepStates[name]; ok {
		return state
	}
	return StepStatePending
}

// SetStepState records the state of a step.
func (f *FlowDefinition) SetStepState(name string, state StepState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StepStates == nil {
		f.StepStates = make(map[string]StepState)
	}
	f.StepStates[name] = state
	f.UpdatedAt = time.Now()
}

// RecordError records a step failure on the instance.
func (f *FlowDefinition) RecordError(stepName string, err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Errors == nil {
		f.Errors = make(map[string]string)
	}
	f.Errors[stepName] = err.Error()
}

// Heartbeat refreshes the liveness timestamp used by crash recovery.
func (f *FlowDefinition) Heartbeat() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LastHeartbeatAt = time.Now()
}

// SetVersion records the version assigned by the persistence layer.
func (f *FlowDefinition) SetVersion(version int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Version = version
}

// Clone creates a deep copy of the instance so that callers can mutate it
// without affecting the stored original. The mutex is not copied.
func (f *FlowDefinition) Clone() *FlowDefinition {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := &FlowDefinition{
		FlowID:          f.FlowID,
		FlowType:        f.FlowType,
		UserID:          f.UserID,
		CorrelationID:   f.CorrelationID,
		Status:          f.Status,
		CurrentStepName: f.CurrentStepName,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
		LastHeartbeatAt: f.LastHeartbeatAt,
		PauseReason:     f.PauseReason,
		PauseMessage:    f.PauseMessage,
		CancelReason:    f.CancelReason,
		Version:         f.Version,
	}
	if f.StartedAt != nil {
		t := *f.StartedAt
		out.StartedAt = &t
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		out.CompletedAt = &t
	}
	if f.PausedAt != nil {
		t := *f.PausedAt
		out.PausedAt = &t
	}
	if f.ActiveResumeConfig != nil {
		cfg := *f.ActiveResumeConfig
		out.ActiveResumeConfig = &cfg
	}
	out.Data = make(map[string]interface{}, len(f.Data))
	for k, v := range f.Data {
		out.Data[k] = v
	}
	out.StepStates = make(map[string]StepState, len(f.StepStates))
	for k, v := range f.StepStates {
		out.StepStates[k] = v
	}
	out.Errors = make(map[string]string, len(f.Errors))
	for k, v := range f.Errors {
		out.Errors[k] = v
	}
	return out
}

// CopyFrom updates mutable fields from src. The mutex is intentionally not
// copied.
func (f *FlowDefinition) CopyFrom(src *FlowDefinition) {
	if src == nil || src == f {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Status = src.Status
	f.CurrentStepName = src.CurrentStepName
	f.UpdatedAt = src.UpdatedAt
	f.LastHeartbeatAt = src.LastHeartbeatAt
	f.StartedAt = src.StartedAt
	f.CompletedAt = src.CompletedAt
	f.PausedAt = src.PausedAt
	f.PauseReason = src.PauseReason
	f.PauseMessage = src.PauseMessage
	f.ActiveResumeConfig = src.ActiveResumeConfig
	f.CancelReason = src.CancelReason
	f.Version = src.Version
	f.Data = src.Data
	f.StepStates = src.StepStates
	f.Errors = src.Errors
}

// Summary is the caller-facing projection of a flow instance.
type Summary struct {
	FlowID          string                 `json:"flowId"`
	FlowType        string                 `json:"flowType"`
	UserID          string                 `json:"userId,omitempty"`
	CorrelationID   string                 `json:"correlationId,omitempty"`
	Status          Status                 `json:"status"`
	CurrentStepName string                 `json:"currentStepName,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	CompletedAt     *time.Time             `json:"completedAt,omitempty"`
	PauseReason     PauseReason            `json:"pauseReason,omitempty"`
	PauseMessage    string                 `json:"pauseMessage,omitempty"`
	Errors          map[string]string      `json:"errors,omitempty"`
	Output          map[string]interface{} `json:"output,omitempty"`
}

// Summarize builds the caller-facing projection.
func (f *FlowDefinition) Summarize() *Summary {
	f.mu.RLock()
	defer f.mu.RUnlock()
	errs := make(map[string]string, len(f.Errors))
	for k, v := range f.Errors {
		errs[k] = v
	}
	out := make(map[string]interface{}, len(f.Data))
	for k, v := range f.Data {
		out[k] = v
	}
	return &Summary{
		FlowID:          f.FlowID,
		FlowType:        f.FlowType,
		UserID:          f.UserID,
		CorrelationID:   f.CorrelationID,
		Status:          f.Status,
		CurrentStepName: f.CurrentStepName,
		CreatedAt:       f.CreatedAt,
		CompletedAt:     f.CompletedAt,
		PauseReason:     f.PauseReason,
		PauseMessage:    f.PauseMessage,
		Errors:          errs,
		Output:          out,
	}
}
