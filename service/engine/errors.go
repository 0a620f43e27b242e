package engine

import "errors"

var (
	// ErrNotFound is returned by Decide when the request id is neither
	// pending nor decided.
	ErrNotFound = errors.New("engine: request not found")

	// ErrAlreadyDecided is returned by Decide for a request that already has
	// an authoritative decision. The duplicate is absorbed, not an incident.
	ErrAlreadyDecided = errors.New("engine: request already decided")
)
