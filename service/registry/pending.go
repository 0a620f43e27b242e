package registry

import (
	"context"
	"sync"
	"time"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Pending is the transient, in-memory wait slot for a request awaiting a
// human decision. It is fulfilled exactly once and destroyed on resolution
// or timeout; the registry owns it for the lifetime of the wait.
type Pending struct {
	Request   *permission.ActionRequest
	Risk      permission.RiskLevel
	CreatedAt time.Time
	ExpiresAt time.Time

	once     sync.Once
	done     chan struct{}
	decision *permission.Decision
}

// NewPending creates a wait slot for the given request.
func NewPending(request *permission.ActionRequest, risk permission.RiskLevel, createdAt, expiresAt time.Time) *Pending {
	return &Pending{
		Request:   request,
		Risk:      risk,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		done:      make(chan struct{}),
	}
}

// fulfill completes the slot with the authoritative decision. Only the first
// call has any effect.
func (p *Pending) fulfill(decision *permission.Decision) {
	p.once.Do(func() {
		p.decision = decision
		close(p.done)
	})
}

// Wait blocks until the slot is fulfilled or the context is cancelled. The
// engine guarantees fulfilment within the request timeout, so a Wait without
// context deadline still terminates.
func (p *Pending) Wait(ctx context.Context) (*permission.Decision, error) {
	select {
	case <-p.done:
		return p.decision, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
