// Package tracker records step execution attempts and decides idempotent
// result reuse from hashed inputs.
package tracker

import (
	"context"
	"time"
)

// RecordStatus is the state of a single execution attempt.
type RecordStatus string

const (
	RecordStarted   RecordStatus = "started"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// Record is one execution attempt of a step within a flow. Records are
// append-only: finalisation appends the outcome, it never rewrites history
// observed by other readers.
type Record struct {
	FlowID      string       `json:"flowId"`
	StepID      string       `json:"stepId"`
	Attempt     int          `json:"attempt"`
	InputHash   string       `json:"inputHash"`
	OutputHash  string       `json:"outputHash,omitempty"`
	Output      interface{}  `json:"output,omitempty"`
	Status      RecordStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// Service tracks execution attempts. Attempt numbers are monotonic per
// (flowID, stepID) even under concurrent RecordStart calls.
type Service interface {
	// RecordStart creates a started record and returns it with the next
	// attempt number.
	RecordStart(ctx context.Context, flowID, stepID, inputHash string) (*Record, error)

	// RecordCompletion finalises the attempt with its output.
	RecordCompletion(ctx context.Context, record *Record, outputHash string, output interface{}) error

	// RecordFailure finalises the attempt with an error.
	RecordFailure(ctx context.Context, record *Record, stepErr error) error

	// HasExecutedSuccessfully returns the completed record for an exact
	// input-hash match; differing inputs never short-circuit execution.
	HasExecutedSuccessfully(ctx context.Context, flowID, stepID, inputHash string) (*Record, bool, error)

	// Records returns all attempts for a flow, oldest first.
	Records(ctx context.Context, flowID string) ([]*Record, error)
}
