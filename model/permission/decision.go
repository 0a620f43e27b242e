package permission

import "time"

// Outcome is the terminal disposition of an action request.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeDenied       Outcome = "denied"
	OutcomeTimedOut     Outcome = "timed-out"
	OutcomeAutoApproved Outcome = "auto-approved"
	OutcomeAutoDenied   Outcome = "auto-denied"
)

// Approved reports whether the outcome permits the action. A timed out
// request is denied for the caller.
func (o Outcome) Approved() bool {
	return o == OutcomeApproved || o == OutcomeAutoApproved
}

// Resolver identities recorded for non-operator resolutions.
const (
	ResolvedByTimeout    = "system:timeout"
	ResolvedByDisconnect = "system:disconnect"
	ResolvedByRecovery   = "system:recovery"
	ResolvedByFault      = "system:fault"
)

// Decision is the persisted, append-only resolution of a request. At most
// one decision exists per request id; corrections append a new record that
// references the superseded one instead of overwriting it.
type Decision struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	Outcome    Outcome   `json:"outcome"`
	ResolvedBy string    `json:"resolvedBy"` // operator id, "rule:<rule_id>" or a system identity
	Reason     string    `json:"reason,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
	LatencyMs  int64     `json:"latencyMs"`
	Supersedes string    `json:"supersedes,omitempty"` // decision ID this record corrects, audit only
}
