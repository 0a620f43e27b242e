package permission

import (
	"fmt"
	"time"
)

// ActionKind categorises the side effect an agent wants to perform.
type ActionKind string

const (
	KindFileWrite     ActionKind = "file-write"
	KindFileDelete    ActionKind = "file-delete"
	KindNetworkEgress ActionKind = "network-egress"
	KindSystemModify  ActionKind = "system-modify"
	KindProcessExec   ActionKind = "process-exec"
	KindCustom        ActionKind = "custom"
)

// Known reports whether the kind is one of the recognised values. Unknown
// kinds still flow through the system but classify as critical.
func (k ActionKind) Known() bool {
	switch k {
	case KindFileWrite, KindFileDelete, KindNetworkEgress, KindSystemModify, KindProcessExec, KindCustom:
		return true
	}
	return false
}

// RiskLevel orders requests from harmless to destructive. The order is used
// both for classification precedence and for the timeout defaults (higher
// risk gets a shorter unattended window).
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskLow:      "low",
	RiskMedium:   "medium",
	RiskHigh:     "high",
	RiskCritical: "critical",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("risk(%d)", int(r))
}

// ParseRiskLevel converts a textual level back to RiskLevel.
func ParseRiskLevel(name string) (RiskLevel, error) {
	for level, n := range riskNames {
		if n == name {
			return level, nil
		}
	}
	return RiskCritical, fmt.Errorf("unknown risk level %q", name)
}

// MarshalJSON encodes the level as its textual name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", r.String())), nil
}

// UnmarshalJSON decodes a textual level.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("invalid risk level %s", data)
	}
	level, err := ParseRiskLevel(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// ActionRequest describes a single side-effecting action an agent asks to
// perform. Instances are created by the gateway on intake and are immutable
// afterwards.
type ActionRequest struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agentId,omitempty"`
	SessionID   string     `json:"sessionId"`
	Kind        ActionKind `json:"kind"`
	Target      string     `json:"target"`
	Descriptor  string     `json:"descriptor,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
}

// Validate checks the request before classification. Malformed requests are
// rejected synchronously and never reach the engine state machine.
func (r *ActionRequest) Validate() error {
	if r == nil {
		return NewValidationError("request", "is nil")
	}
	if r.SessionID == "" {
		return NewValidationError("sessionId", "is required")
	}
	if r.Kind == "" {
		return NewValidationError("kind", "is required")
	}
	if r.Target == "" {
		return NewValidationError("target", "is required")
	}
	return nil
}

// ValidationError indicates a malformed request or rule. It is reported to
// the caller synchronously, before any state is created.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
