// Package approval manages the human decisions behind flows paused for
// manual approval. The engine files a request when a flow pauses with the
// manual-approval reason; a decision resumes or cancels the flow. Requests
// and decisions are also announced on a queue for external approval UIs.
package approval

import (
	"context"
	"errors"

	"github.com/flowgrid/flowgrid/service/messaging"
)

var (
	// ErrNotFound is returned for an unknown request identifier.
	ErrNotFound = errors.New("approval: request not found")

	// ErrAlreadyDecided is returned when deciding a request twice.
	ErrAlreadyDecided = errors.New("approval: request already decided")
)

// Service stores approval requests and their decisions.
type Service interface {
	// RequestApproval files a pending request. Filing a second request for
	// the same flow while one is pending is a no-op returning the pending
	// request.
	RequestApproval(ctx context.Context, r *Request) (*Request, error)

	// ListPending returns undecided requests, oldest first.
	ListPending(ctx context.Context) ([]*Request, error)

	// Decide records the decision for a pending request.
	Decide(ctx context.Context, id string, decision *Decision) (*Request, error)

	// Queue exposes the announcement queue of request and decision events.
	Queue() messaging.Queue[Event]
}
