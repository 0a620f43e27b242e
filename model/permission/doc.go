// Package permission defines the value types exchanged between the gateway,
// the orchestration engine and the stores: action requests, risk levels,
// auto-approve rules and recorded decisions.
package permission
