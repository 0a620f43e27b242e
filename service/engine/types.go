package engine

import (
	"time"

	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/registry"
)

// Standard event topics published on the engine queue.
const (
	TopicPendingCreated  = "pending.created"
	TopicDecisionCreated = "decision.created"
)

// PendingNotice is the operator-facing projection of a pending request.
type PendingNotice struct {
	RequestID   string                `json:"requestId"`
	AgentID     string                `json:"agentId,omitempty"`
	SessionID   string                `json:"sessionId"`
	Kind        permission.ActionKind `json:"kind"`
	Target      string                `json:"target"`
	Descriptor  string                `json:"descriptor,omitempty"`
	Risk        permission.RiskLevel  `json:"risk"`
	SubmittedAt time.Time             `json:"submittedAt"`
	ExpiresAt   time.Time             `json:"expiresAt"`
}

// NoticeOf projects a pending slot for the wire.
func NoticeOf(pending *registry.Pending) *PendingNotice {
	request := pending.Request
	return &PendingNotice{
		RequestID:   request.ID,
		AgentID:     request.AgentID,
		SessionID:   request.SessionID,
		Kind:        request.Kind,
		Target:      request.Target,
		Descriptor:  request.Descriptor,
		Risk:        pending.Risk,
		SubmittedAt: request.SubmittedAt,
		ExpiresAt:   pending.ExpiresAt,
	}
}

// Event is the envelope published to operator front-ends: a new pending
// request or a recorded decision.
type Event struct {
	Topic    string               `json:"topic"`
	Pending  *PendingNotice       `json:"pending,omitempty"`
	Decision *permission.Decision `json:"decision,omitempty"`
}
