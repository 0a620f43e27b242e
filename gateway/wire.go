package gateway

import (
	"encoding/json"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Frame is the wire envelope for both directions. ID correlates a response
// with its request; push frames carry no ID.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a connection-scoped protocol error. It never affects other
// sessions.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame types. Agents use submit/result; operators use the rest plus the
// pending/resolved push frames.
const (
	FrameSubmit      = "submit"
	FrameResult      = "result"
	FrameSubscribe   = "subscribe"
	FramePending     = "pending"
	FrameResolved    = "resolved"
	FrameDecide      = "decide"
	FrameDecided     = "decided"
	FrameRulesList   = "rules.list"
	FrameRules       = "rules"
	FrameRuleAdd     = "rules.add"
	FrameRuleAdded   = "rules.added"
	FrameRuleRemove  = "rules.remove"
	FrameRuleRemoved = "rules.removed"
	FrameError       = "error"
)

// Error codes.
const (
	CodeProtocol   = "protocol_error"
	CodeValidation = "validation_error"
	CodeNotFound   = "not_found"
)

// SubmitParams is the agent request to authorize one action. The call blocks
// until the engine resolves it.
type SubmitParams struct {
	SessionID  string                `json:"sessionId"`
	AgentID    string                `json:"agentId,omitempty"`
	Kind       permission.ActionKind `json:"kind"`
	Target     string                `json:"target"`
	Descriptor string                `json:"descriptor,omitempty"`
}

// SubmitResult carries the terminal outcome back to the agent.
type SubmitResult struct {
	RequestID string             `json:"requestId"`
	Outcome   permission.Outcome `json:"outcome"`
	Approved  bool               `json:"approved"`
}

// DecideParams is the operator resolution of a pending request.
type DecideParams struct {
	RequestID     string `json:"requestId"`
	Approved      bool   `json:"approved"`
	Operator      string `json:"operator,omitempty"`
	Reason        string `json:"reason,omitempty"`
	PersistAsRule bool   `json:"persistAsRule,omitempty"`
}

// DecideResult reports whether the decision was accepted as the first
// resolution; a lost race against the timeout yields accepted=false.
type DecideResult struct {
	Accepted bool               `json:"accepted"`
	Outcome  permission.Outcome `json:"outcome,omitempty"`
}

// RuleAddParams creates an auto-approve/auto-deny rule.
type RuleAddParams struct {
	Kind      permission.ActionKind `json:"kind"`
	Target    string                `json:"target"`
	Effect    permission.RuleEffect `json:"effect"`
	Scope     permission.RuleScope  `json:"scope"`
	SessionID string                `json:"sessionId,omitempty"`
}

// RuleAddResult returns the id assigned to the new rule.
type RuleAddResult struct {
	RuleID string `json:"ruleId"`
}

// RuleRemoveParams removes a rule by id.
type RuleRemoveParams struct {
	RuleID string `json:"ruleId"`
}

// RuleRemoveResult acknowledges a removal.
type RuleRemoveResult struct {
	OK bool `json:"ok"`
}

// RulesResult lists the stored rules.
type RulesResult struct {
	Rules []*permission.Rule `json:"rules"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func responseFrame(id, frameType string, payload interface{}) *Frame {
	return &Frame{Type: frameType, ID: id, Payload: mustMarshal(payload)}
}

func errorFrame(id, code, message string) *Frame {
	return &Frame{Type: FrameError, ID: id, Error: &Error{Code: code, Message: message}}
}
