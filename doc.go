// Package gatekeeper implements a human-in-the-loop permission gateway for
// autonomous agents. Side-effecting actions are intercepted, classified by
// risk, checked against persisted auto-approve/auto-deny rules and – when
// undecided – held pending until an operator resolves them or a risk-scaled
// timeout denies them. Decisions are recorded in an append-only, idempotent
// ledger so that no request is ever resolved twice and no approval survives
// an agent disconnect.
package gatekeeper
