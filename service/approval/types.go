package approval

import "time"

// Announcement topics published on the approval queue.
const (
	TopicRequestCreated  = "approval.request.created"
	TopicDecisionCreated = "approval.decision.created"
)

// Event is the announcement envelope published on the approval queue.
type Event struct {
	Topic   string            `json:"topic"`
	Request *Request          `json:"request,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Request asks a human to unblock a flow paused for manual approval.
type Request struct {
	ID            string                 `json:"id"`
	FlowID        string                 `json:"flowId"`
	FlowType      string                 `json:"flowType"`
	StepName      string                 `json:"stepName,omitempty"`
	Message       string                 `json:"message,omitempty"`
	RequestedBy   string                 `json:"requestedBy,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	ExpiresAt     *time.Time             `json:"expiresAt,omitempty"`

	Decision *Decision `json:"decision,omitempty"`
}

// Pending reports whether the request still awaits a decision.
func (r *Request) Pending() bool {
	return r != nil && r.Decision == nil
}

// Decision is the recorded outcome of an approval request.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy string    `json:"decidedBy,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}
