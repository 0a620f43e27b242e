package engine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/nazarick/gatekeeper/internal/clock"
	"github.com/nazarick/gatekeeper/internal/idgen"
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/classifier"
	"github.com/nazarick/gatekeeper/service/dao"
	"github.com/nazarick/gatekeeper/service/dao/store"
	"github.com/nazarick/gatekeeper/service/ledger"
	"github.com/nazarick/gatekeeper/service/messaging"
	qmem "github.com/nazarick/gatekeeper/service/messaging/memory"
	"github.com/nazarick/gatekeeper/service/notify"
	"github.com/nazarick/gatekeeper/service/registry"
	"github.com/nazarick/gatekeeper/service/rulestore"
	"github.com/nazarick/gatekeeper/tracing"
)

// Service composes classifier, rule store, ledger and registry into the
// permission state machine: RECEIVED -> CLASSIFIED -> {RULE_RESOLVED |
// PENDING} -> RESOLVED. The blocked caller is released only on RESOLVED and
// always receives a definitive outcome; every internal fault biases toward
// denial.
type Service struct {
	config     Config
	classifier *classifier.Service
	rules      *rulestore.Service
	ledger     *ledger.Service
	registry   *registry.Service
	requests   dao.Service[string, permission.ActionRequest]
	events     messaging.Queue[Event]
	notifier   notify.Sink

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func requestKey(r *permission.ActionRequest) string { return r.ID }

// New creates an engine. The classifier, rule store and ledger are required;
// everything else defaults to in-memory implementations.
func New(riskClassifier *classifier.Service, rules *rulestore.Service, decisionLedger *ledger.Service, options ...Option) *Service {
	ret := &Service{
		config:     DefaultConfig(),
		classifier: riskClassifier,
		rules:      rules,
		ledger:     decisionLedger,
		registry:   registry.New(),
		requests:   store.NewMemoryStore[string, permission.ActionRequest](requestKey),
		events:     qmem.NewQueue[Event](qmem.DefaultConfig()),
		notifier:   notify.LogSink{},
		timers:     map[string]*time.Timer{},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Submit runs one request through the state machine and blocks until a
// terminal outcome exists. Validation failures are reported synchronously;
// everything past validation resolves to a decision.
func (s *Service) Submit(ctx context.Context, request *permission.ActionRequest) (*permission.Decision, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	if request.ID == "" {
		request.ID = idgen.New()
	}
	if request.SubmittedAt.IsZero() {
		request.SubmittedAt = clock.Now()
	}
	ctx, span := tracing.Start(ctx, "engine.submit")
	defer span.End()
	span.WithAttributes(map[string]string{
		"request.id":   request.ID,
		"request.kind": string(request.Kind),
	})

	if err := s.requests.Save(ctx, request); err != nil {
		return s.failClosed(ctx, request.ID, fmt.Errorf("failed to persist request: %w", err)), nil
	}

	risk := s.classifier.Classify(request)

	rule, err := s.rules.Match(ctx, request)
	if err != nil {
		return s.failClosed(ctx, request.ID, fmt.Errorf("rule match failed: %w", err)), nil
	}
	if rule != nil {
		outcome := permission.OutcomeAutoDenied
		if rule.Effect == permission.EffectAutoApprove {
			outcome = permission.OutcomeAutoApproved
		}
		decision, won, err := s.ledger.Record(ctx, &permission.Decision{
			RequestID:  request.ID,
			Outcome:    outcome,
			ResolvedBy: "rule:" + rule.ID,
			ResolvedAt: clock.Now(),
		})
		if err != nil {
			return s.failClosed(ctx, request.ID, fmt.Errorf("failed to record auto decision: %w", err)), nil
		}
		if won {
			_ = s.events.Publish(ctx, &Event{Topic: TopicDecisionCreated, Decision: decision})
		}
		return decision, nil
	}

	// No rule applies – promote to a pending slot bounded by the risk
	// timeout and block until a human or the deadline resolves it.
	now := clock.Now()
	window := s.config.timeoutFor(risk)
	pending := registry.NewPending(request, risk, now, now.Add(window))
	s.registry.Track(pending)
	s.scheduleTimeout(request.ID, window)

	notice := NoticeOf(pending)
	_ = s.events.Publish(ctx, &Event{Topic: TopicPendingCreated, Pending: notice})
	s.notifyAsync(notice)

	decision, err := pending.Wait(ctx)
	if err != nil {
		// The caller went away mid-wait; resolve its slot as denied so no
		// ghost approval can surface later.
		decision, _ = s.finalize(context.Background(), request.ID, &permission.Decision{
			RequestID:  request.ID,
			Outcome:    permission.OutcomeDenied,
			ResolvedBy: permission.ResolvedByDisconnect,
			Reason:     "caller cancelled while pending",
			ResolvedAt: clock.Now(),
			LatencyMs:  clock.Now().Sub(now).Milliseconds(),
		})
		return decision, err
	}
	return decision, nil
}

// Decide resolves a pending request on behalf of an operator. With
// persistAsRule the decision is also persisted as an auto-approve or
// auto-deny rule for structurally identical requests – the only way rules
// come into existence from the engine.
func (s *Service) Decide(ctx context.Context, requestID string, approved bool, resolvedBy, reason string, persistAsRule bool) (*permission.Decision, error) {
	ctx, span := tracing.Start(ctx, "engine.decide")
	defer span.End()
	span.WithAttributes(map[string]string{"request.id": requestID})

	slot := s.registry.Lookup(requestID)
	if slot == nil {
		existing, err := s.ledger.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, ErrAlreadyDecided
		}
		return nil, ErrNotFound
	}

	outcome := permission.OutcomeDenied
	if approved {
		outcome = permission.OutcomeApproved
	}
	now := clock.Now()
	decision, won := s.finalize(ctx, requestID, &permission.Decision{
		RequestID:  requestID,
		Outcome:    outcome,
		ResolvedBy: resolvedBy,
		Reason:     reason,
		ResolvedAt: now,
		LatencyMs:  now.Sub(slot.CreatedAt).Milliseconds(),
	})
	if !won {
		return decision, ErrAlreadyDecided
	}
	if persistAsRule {
		if err := s.rules.Add(ctx, ruleFor(slot.Request, approved)); err != nil {
			// The decision stands even when rule creation fails.
			log.Printf("engine: failed to persist rule for request %s: %v", requestID, err)
		}
	}
	return decision, nil
}

// RegisterSession announces an agent session to the registry.
func (s *Service) RegisterSession(sessionID string) {
	s.registry.Register(sessionID)
}

// UnregisterSession removes a session and resolves all of its pending
// requests as denied. Other sessions are unaffected.
func (s *Service) UnregisterSession(ctx context.Context, sessionID string) {
	for _, requestID := range s.registry.Unregister(sessionID) {
		s.finalize(ctx, requestID, &permission.Decision{
			RequestID:  requestID,
			Outcome:    permission.OutcomeDenied,
			ResolvedBy: permission.ResolvedByDisconnect,
			Reason:     "agent session disconnected",
			ResolvedAt: clock.Now(),
		})
	}
}

// Pending lists the currently pending requests, oldest first.
func (s *Service) Pending(_ context.Context) []*PendingNotice {
	slots := s.registry.Snapshot()
	notices := make([]*PendingNotice, 0, len(slots))
	for _, slot := range slots {
		notices = append(notices, NoticeOf(slot))
	}
	return notices
}

// Rules exposes the rule store for operator rule management.
func (s *Service) Rules() *rulestore.Service { return s.rules }

// Ledger exposes the decision ledger for audit queries.
func (s *Service) Ledger() *ledger.Service { return s.ledger }

// Queue exposes the event queue consumed by the gateway for operator push.
func (s *Service) Queue() messaging.Queue[Event] { return s.events }

// Recover resolves every persisted request that lacks a decision as timed
// out. Run once at startup: the original callers are gone, so resurrecting
// their waits would hand approvals to nobody.
func (s *Service) Recover(ctx context.Context) error {
	requests, err := s.requests.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted requests: %w", err)
	}
	recovered := 0
	for _, request := range requests {
		decided, err := s.ledger.Decided(ctx, request.ID)
		if err != nil {
			return err
		}
		if decided {
			continue
		}
		_, _, err = s.ledger.Record(ctx, &permission.Decision{
			RequestID:  request.ID,
			Outcome:    permission.OutcomeTimedOut,
			ResolvedBy: permission.ResolvedByRecovery,
			Reason:     "undecided at startup",
			ResolvedAt: clock.Now(),
		})
		if err != nil {
			return err
		}
		recovered++
	}
	if recovered > 0 {
		log.Printf("engine: recovered %d undecided request(s) as timed out", recovered)
	}
	return nil
}

// Shutdown stops all outstanding timeout timers.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for requestID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, requestID)
	}
}

// finalize records the candidate decision and releases any waiter with the
// authoritative result. The ledger write is the race arbiter: whichever
// resolution records first wins, all others are absorbed as no-ops.
func (s *Service) finalize(ctx context.Context, requestID string, candidate *permission.Decision) (*permission.Decision, bool) {
	decision, won, err := s.ledger.Record(ctx, candidate)
	if err != nil {
		// Store unavailable: fail closed with an unpersisted denial rather
		// than leaving the caller blocked.
		log.Printf("engine: failed to record decision for %s: %v", requestID, err)
		decision = &permission.Decision{
			ID:         idgen.New(),
			RequestID:  requestID,
			Outcome:    permission.OutcomeDenied,
			ResolvedBy: permission.ResolvedByFault,
			Reason:     err.Error(),
			ResolvedAt: clock.Now(),
		}
		won = false
	}
	if !won && err == nil {
		// Debug only – a duplicate resolution is the expected loser of the
		// timeout-versus-human race.
		log.Printf("engine: duplicate resolution for %s absorbed", requestID)
	}
	s.cancelTimeout(requestID)
	s.registry.Resolve(requestID, decision)
	if won {
		_ = s.events.Publish(ctx, &Event{Topic: TopicDecisionCreated, Decision: decision})
	}
	return decision, won
}

// failClosed denies a request after an internal fault. The denial is
// recorded on a best-effort basis; the caller gets a definitive outcome
// either way.
func (s *Service) failClosed(ctx context.Context, requestID string, cause error) *permission.Decision {
	log.Printf("engine: failing closed for %s: %v", requestID, cause)
	decision, _ := s.finalize(ctx, requestID, &permission.Decision{
		RequestID:  requestID,
		Outcome:    permission.OutcomeDenied,
		ResolvedBy: permission.ResolvedByFault,
		Reason:     cause.Error(),
		ResolvedAt: clock.Now(),
	})
	return decision
}

// scheduleTimeout arms the hard deadline for a pending request. A scheduled
// resolution task, not a polling loop, so worst-case latency is bounded.
func (s *Service) scheduleTimeout(requestID string, window time.Duration) {
	timer := time.AfterFunc(window, func() {
		s.finalize(context.Background(), requestID, &permission.Decision{
			RequestID:  requestID,
			Outcome:    permission.OutcomeTimedOut,
			ResolvedBy: permission.ResolvedByTimeout,
			Reason:     fmt.Sprintf("no decision within %s", window),
			ResolvedAt: clock.Now(),
			LatencyMs:  window.Milliseconds(),
		})
	})
	s.mu.Lock()
	s.timers[requestID] = timer
	s.mu.Unlock()
}

func (s *Service) cancelTimeout(requestID string) {
	s.mu.Lock()
	if timer, ok := s.timers[requestID]; ok {
		timer.Stop()
		delete(s.timers, requestID)
	}
	s.mu.Unlock()
}

func (s *Service) notifyAsync(notice *PendingNotice) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		text := notice.Descriptor
		if text == "" {
			text = fmt.Sprintf("%s on %s", notice.Kind, notice.Target)
		}
		if err := s.notifier.Notify(ctx, "Permission needed: "+text, notice.Risk); err != nil {
			log.Printf("engine: notification failed: %v", err)
		}
	}()
}

// ruleFor derives the persisted rule from an operator "always"/"never"
// response. The target pattern matches structurally identical requests only.
func ruleFor(request *permission.ActionRequest, approved bool) *permission.Rule {
	effect := permission.EffectAutoDeny
	if approved {
		effect = permission.EffectAutoApprove
	}
	return &permission.Rule{
		Kind:   request.Kind,
		Target: "^" + regexp.QuoteMeta(request.Target) + "$",
		Effect: effect,
		Scope:  permission.ScopeGlobal,
	}
}
