// Package progress derives aggregated step counters for a single flow
// instance. The snapshot is computed from the recorded step states against
// the registered definition, so it is consistent with what a resumed or
// recovered flow would observe.
package progress

import (
	"time"

	"github.com/flowgrid/flowgrid/model"
)

// Snapshot holds the aggregated step counters of one flow instance.
type Snapshot struct {
	FlowID   string       `json:"flowId"`
	FlowType string       `json:"flowType"`
	Status   model.Status `json:"status"`

	TotalSteps     int `json:"totalSteps"`
	CompletedSteps int `json:"completedSteps"`
	FailedSteps    int `json:"failedSteps"`
	SkippedSteps   int `json:"skippedSteps"`
	RunningSteps   int `json:"runningSteps"`
	PendingSteps   int `json:"pendingSteps"`

	// SubSteps counts dynamically generated executions, which are not part
	// of the declared graph.
	SubSteps int `json:"subSteps,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Percent returns the completion ratio over the declared steps in
// [0.0, 1.0]; skipped steps count as done.
func (s Snapshot) Percent() float64 {
	if s.TotalSteps == 0 {
		return 0
	}
	return float64(s.CompletedSteps+s.SkippedSteps) / float64(s.TotalSteps)
}

// Of computes the progress of a flow instance against its definition.
func Of(flow *model.FlowDefinition, flowType *model.FlowType) Snapshot {
	// Work on a copy so concurrent step-state writes cannot tear the counters.
	flow = flow.Clone()
	snapshot := Snapshot{
		FlowID:      flow.FlowID,
		FlowType:    flow.FlowType,
		Status:      flow.GetStatus(),
		StartedAt:   flow.StartedAt,
		CompletedAt: flow.CompletedAt,
	}
	declared := map[string]bool{}
	for _, step := range flowType.Steps {
		declared[step.Name] = true
		snapshot.TotalSteps++
		switch flow.StepState(step.Name) {
		case model.StepStateCompleted:
			snapshot.CompletedSteps++
		case model.StepStateFailed:
			snapshot.FailedSteps++
		case model.StepStateSkipped:
			snapshot.SkippedSteps++
		case model.StepStateRunning:
			snapshot.RunningSteps++
		default:
			snapshot.PendingSteps++
		}
	}
	for name := range flow.StepStates {
		if !declared[name] {
			snapshot.SubSteps++
		}
	}
	return snapshot
}
