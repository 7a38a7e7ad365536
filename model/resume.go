package model

import (
	"time"
)

// PauseReason classifies why a flow entered the paused status.
type PauseReason string

const (
	PauseExternalDependency    PauseReason = "externalDependency"
	PauseInsufficientResources PauseReason = "insufficientResources"
	PauseManualApproval        PauseReason = "manualApproval"
	PauseDataAvailability      PauseReason = "dataAvailability"
	PauseSystemMaintenance     PauseReason = "systemMaintenance"
	PauseRateLimitExceeded     PauseReason = "rateLimitExceeded"
	PauseCustom                PauseReason = "custom"
)

// PauseSignal is returned by a PauseCondition to transition the flow into
// the paused status.
type PauseSignal struct {
	Reason  PauseReason
	Message string
}

// PauseCondition is evaluated after its step completes; returning a non-nil
// signal pauses the flow. A nil condition never pauses.
type PauseCondition func(flow *FlowDefinition, result *StepResult) *PauseSignal

// EventTrigger resumes a paused flow when an event of the matching type is
// published. The optional filter narrows matching by payload; filters are
// code and are rebound from the registered flow type after a restart.
type EventTrigger struct {
	EventType string                         `json:"eventType"`
	Filter    func(payload interface{}) bool `json:"-"`
}

// ConditionTrigger resumes a paused flow once the predicate holds. The
// background auto-resume worker evaluates it periodically against the live
// instance.
type ConditionTrigger struct {
	Interval  time.Duration                   `json:"interval"`
	Predicate func(flow *FlowDefinition) bool `json:"-"`
}

// TimeoutTrigger acts once the flow has been paused longer than Duration:
// either auto-resume, or stay paused awaiting intervention.
type TimeoutTrigger struct {
	Duration   time.Duration `json:"duration"`
	AutoResume bool          `json:"autoResume"`
}

// ResumeConfig is the composable resume policy of a pausing step. Any
// combination of triggers may be set; manual resume is always permitted for
// authorized callers.
type ResumeConfig struct {
	EventTriggers []EventTrigger    `json:"eventTriggers,omitempty"`
	Condition     *ConditionTrigger `json:"condition,omitempty"`
	Timeout       *TimeoutTrigger   `json:"timeout,omitempty"`
}

// OnEvent returns a resume policy triggered by a single event type.
func OnEvent(eventType string) *ResumeConfig {
	return &ResumeConfig{EventTriggers: []EventTrigger{{EventType: eventType}}}
}

// OnFilteredEvent returns a resume policy triggered by an event type whose
// payload passes the filter.
func OnFilteredEvent(eventType string, filter func(payload interface{}) bool) *ResumeConfig {
	return &ResumeConfig{EventTriggers: []EventTrigger{{EventType: eventType, Filter: filter}}}
}

// OnCondition returns a resume policy driven by periodic predicate
// evaluation.
func OnCondition(interval time.Duration, predicate func(flow *FlowDefinition) bool) *ResumeConfig {
	return &ResumeConfig{Condition: &ConditionTrigger{Interval: interval, Predicate: predicate}}
}

// OnTimeout returns a resume policy that fires after the given pause
// duration.
func OnTimeout(duration time.Duration, autoResume bool) *ResumeConfig {
	return &ResumeConfig{Timeout: &TimeoutTrigger{Duration: duration, AutoResume: autoResume}}
}

// WithEvent adds an event trigger to an existing policy.
func (r *ResumeConfig) WithEvent(eventType string, filter func(payload interface{}) bool) *ResumeConfig {
	r.EventTriggers = append(r.EventTriggers, EventTrigger{EventType: eventType, Filter: filter})
	return r
}

// MatchesEvent reports whether an event of the given type and payload
// satisfies any of the event triggers.
func (r *ResumeConfig) MatchesEvent(eventType string, payload interface{}) bool {
	if r == nil {
		return false
	}
	for _, trigger := range r.EventTriggers {
		if trigger.EventType != eventType {
			continue
		}
		if trigger.Filter == nil || trigger.Filter(payload) {
			return true
		}
	}
	return false
}
