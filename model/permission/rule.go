package permission

import (
	"regexp"
	"time"
)

// RuleEffect is what a matching rule does to a request.
type RuleEffect string

const (
	EffectAutoApprove RuleEffect = "auto-approve"
	EffectAutoDeny    RuleEffect = "auto-deny"
)

// RuleScope bounds where a rule applies.
type RuleScope string

const (
	ScopeGlobal  RuleScope = "global"
	ScopeSession RuleScope = "session"
)

// Rule is a persisted auto-approve/auto-deny pattern. Rules are created only
// by explicit operator "always"/"never" decisions or by direct rule edits –
// the engine never creates them on its own. Content is immutable except for
// the hit counter.
type Rule struct {
	ID        string     `json:"id"`
	Kind      ActionKind `json:"kind"`
	Target    string     `json:"target"` // regular expression matched against the request target
	Effect    RuleEffect `json:"effect"`
	Scope     RuleScope  `json:"scope"`
	SessionID string     `json:"sessionId,omitempty"` // required when Scope is session
	CreatedAt time.Time  `json:"createdAt"`
	HitCount  int        `json:"hitCount"`
}

// Validate checks the rule content. The target pattern must be a compilable
// regular expression so that matching stays a pure function – no dynamic
// code execution.
func (r *Rule) Validate() error {
	if r == nil {
		return NewValidationError("rule", "is nil")
	}
	if r.Kind == "" {
		return NewValidationError("kind", "is required")
	}
	if r.Target == "" {
		return NewValidationError("target", "pattern is required")
	}
	if _, err := regexp.Compile(r.Target); err != nil {
		return NewValidationError("target", err.Error())
	}
	switch r.Effect {
	case EffectAutoApprove, EffectAutoDeny:
	default:
		return NewValidationError("effect", "must be auto-approve or auto-deny")
	}
	switch r.Scope {
	case ScopeGlobal:
	case ScopeSession:
		if r.SessionID == "" {
			return NewValidationError("sessionId", "is required for session scope")
		}
	default:
		return NewValidationError("scope", "must be global or session")
	}
	return nil
}

// AppliesTo reports whether the rule is in scope for the request. Pattern
// matching itself is performed by the rule store against a compiled cache.
func (r *Rule) AppliesTo(req *ActionRequest) bool {
	if r.Kind != req.Kind {
		return false
	}
	if r.Scope == ScopeSession && r.SessionID != req.SessionID {
		return false
	}
	return true
}
