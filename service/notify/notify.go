// Package notify delivers fire-and-forget operator notifications (voice
// prompts, attention sounds). Failures are logged and never affect a
// decision outcome.
package notify

import (
	"context"
	"log"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Sink receives a short human-readable notification together with the risk
// level of the request that caused it, so implementations can pick urgency
// (the original voice front plays gentle/normal/urgent attention sounds).
type Sink interface {
	Notify(ctx context.Context, text string, risk permission.RiskLevel) error
}

// Func adapts a plain function to a Sink.
type Func func(ctx context.Context, text string, risk permission.RiskLevel) error

func (f Func) Notify(ctx context.Context, text string, risk permission.RiskLevel) error {
	return f(ctx, text, risk)
}

// LogSink writes notifications to the process log. It is the default when no
// voice front is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, text string, risk permission.RiskLevel) error {
	log.Printf("notify [%s]: %s", risk, text)
	return nil
}
