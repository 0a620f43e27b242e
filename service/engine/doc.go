// Package engine implements the permission orchestration state machine. A
// submitted action request is classified, checked against persisted rules
// and – when no rule applies – parked as a pending decision until a human
// operator or the risk-scaled timeout resolves it. The decision ledger's
// idempotent write guarantees at most one resolution per request regardless
// of concurrent timeout/human races.
package engine
