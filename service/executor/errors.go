package executor

import "errors"

var (
	// ErrCancelled reports that the cancellation signal stopped the flow.
	ErrCancelled = errors.New("executor: flow cancelled")

	// ErrStalled reports that no step is runnable yet the graph is not
	// complete - a scheduling defect such as a permanently missing data
	// dependency.
	ErrStalled = errors.New("executor: no runnable steps before completion")
)
