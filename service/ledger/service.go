package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nazarick/gatekeeper/internal/clock"
	"github.com/nazarick/gatekeeper/internal/idgen"
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/dao"
)

// Service is the append-only decision ledger. Record is idempotent keyed by
// request id: the first write wins and every later attempt gets the original
// decision back unchanged. That single property is what collapses the
// timeout-versus-human race into a deterministic outcome.
type Service struct {
	dao dao.Service[string, permission.Decision]

	mu        sync.Mutex
	byRequest map[string]*permission.Decision
	loaded    bool
}

// New creates a ledger backed by the supplied DAO. Decisions are keyed by
// their own id so that superseding records can share a request id without
// overwriting history.
func New(decisionDAO dao.Service[string, permission.Decision]) *Service {
	return &Service{dao: decisionDAO, byRequest: map[string]*permission.Decision{}}
}

// Record persists a decision unless one already exists for the request, in
// which case the existing decision is returned together with ok=false. The
// write lock spans the lookup and the save, so two racing resolutions cannot
// both win.
func (s *Service) Record(ctx context.Context, decision *permission.Decision) (*permission.Decision, bool, error) {
	if decision == nil {
		return nil, false, dao.ErrNilEntity
	}
	if decision.RequestID == "" {
		return nil, false, dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, false, err
	}
	if existing, ok := s.byRequest[decision.RequestID]; ok {
		return existing, false, nil
	}
	if decision.ID == "" {
		decision.ID = idgen.New()
	}
	if decision.ResolvedAt.IsZero() {
		decision.ResolvedAt = clock.Now()
	}
	if err := s.dao.Save(ctx, decision); err != nil {
		return nil, false, fmt.Errorf("failed to persist decision for request %s: %w", decision.RequestID, err)
	}
	s.byRequest[decision.RequestID] = decision
	return decision, true, nil
}

// Get returns the authoritative decision for a request, or nil when the
// request is still undecided.
func (s *Service) Get(ctx context.Context, requestID string) (*permission.Decision, error) {
	if requestID == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s.byRequest[requestID], nil
}

// Amend appends a correction referencing the superseded decision. The
// original record stays authoritative for enforcement; amendments exist for
// audit only.
func (s *Service) Amend(ctx context.Context, requestID string, outcome permission.Outcome, resolvedBy, reason string) (*permission.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	original, ok := s.byRequest[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s has no decision to amend: %w", requestID, dao.ErrNotFound)
	}
	amended := &permission.Decision{
		ID:         idgen.New(),
		RequestID:  requestID,
		Outcome:    outcome,
		ResolvedBy: resolvedBy,
		Reason:     reason,
		ResolvedAt: clock.Now(),
		Supersedes: original.ID,
	}
	if err := s.dao.Save(ctx, amended); err != nil {
		return nil, fmt.Errorf("failed to persist amendment for request %s: %w", requestID, err)
	}
	return amended, nil
}

// List returns decisions resolved within [from, to), oldest first. A zero
// "to" means no upper bound. Used for audit export.
func (s *Service) List(ctx context.Context, from, to time.Time) ([]*permission.Decision, error) {
	all, err := s.dao.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	var result []*permission.Decision
	for _, decision := range all {
		if decision.ResolvedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !decision.ResolvedAt.Before(to) {
			continue
		}
		result = append(result, decision)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResolvedAt.Before(result[j].ResolvedAt) })
	return result, nil
}

// Decided reports whether a request already has an authoritative decision.
func (s *Service) Decided(ctx context.Context, requestID string) (bool, error) {
	decision, err := s.Get(ctx, requestID)
	if err != nil {
		return false, err
	}
	return decision != nil, nil
}

// ensureIndex lazily rebuilds the request-id index from storage – needed
// after a restart so that idempotency also holds across process lifetimes.
// Callers must hold s.mu.
func (s *Service) ensureIndex(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	all, err := s.dao.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild decision index: %w", err)
	}
	for _, decision := range all {
		if decision.Supersedes != "" {
			continue
		}
		existing, ok := s.byRequest[decision.RequestID]
		if !ok || decision.ResolvedAt.Before(existing.ResolvedAt) {
			s.byRequest[decision.RequestID] = decision
		}
	}
	s.loaded = true
	return nil
}
