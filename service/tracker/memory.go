package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/flowgrid/flowgrid/internal/clock"
)

type key struct {
	flowID string
	stepID string
}

// Memory is the reference tracker store: append-only per (flowID, stepID),
// guarded by a single mutex so attempt numbering never corrupts under
// concurrent starts.
type Memory struct {
	records map[key][]*Record
	mux     sync.RWMutex
}

var _ Service = (*Memory)(nil)

// NewMemory creates an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{records: map[key][]*Record{}}
}

// RecordStart appends a started record with the next attempt number.
func (m *Memory) RecordStart(_ context.Context, flowID, stepID, inputHash string) (*Record, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	k := key{flowID: flowID, stepID: stepID}
	record := &Record{
		FlowID:    flowID,
		StepID:    stepID,
		Attempt:   len(m.records[k]) + 1,
		InputHash: inputHash,
		Status:    RecordStarted,
		StartedAt: clock.Now(),
	}
	m.records[k] = append(m.records[k], record)
	return record, nil
}

// RecordCompletion finalises the attempt as completed.
func (m *Memory) RecordCompletion(_ context.Context, record *Record, outputHash string, output interface{}) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	now := clock.Now()
	record.Status = RecordCompleted
	record.OutputHash = outputHash
	record.Output = output
	record.CompletedAt = &now
	return nil
}

// RecordFailure finalises the attempt as failed.
func (m *Memory) RecordFailure(_ context.Context, record *Record, stepErr error) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	now := clock.Now()
	record.Status = RecordFailed
	if stepErr != nil {
		record.Error = stepErr.Error()
	}
	record.CompletedAt = &now
	return nil
}

// HasExecutedSuccessfully scans for a completed record with the exact input
// hash, newest first.
func (m *Memory) HasExecutedSuccessfully(_ context.Context, flowID, stepID, inputHash string) (*Record, bool, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	records := m.records[key{flowID: flowID, stepID: stepID}]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Status == RecordCompleted && records[i].InputHash == inputHash {
			return records[i], true, nil
		}
	}
	return nil, false, nil
}

// Records returns every attempt recorded for a flow, oldest first.
func (m *Memory) Records(_ context.Context, flowID string) ([]*Record, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	var out []*Record
	for k, records := range m.records {
		if k.flowID != flowID {
			continue
		}
		out = append(out, records...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
