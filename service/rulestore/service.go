package rulestore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/nazarick/gatekeeper/internal/clock"
	"github.com/nazarick/gatekeeper/internal/idgen"
	"github.com/nazarick/gatekeeper/model/permission"
	"github.com/nazarick/gatekeeper/service/dao"
)

// Service stores auto-approve/auto-deny rules on top of a generic DAO and
// answers match queries against them. It keeps a process-local cache of the
// rule set together with compiled target patterns; the cache is invalidated
// on every write so reads always reflect prior committed writes.
type Service struct {
	dao dao.Service[string, permission.Rule]

	mu       sync.RWMutex
	cache    []*permission.Rule
	compiled map[string]*regexp.Regexp
	loaded   bool
}

// New creates a rule store backed by the supplied DAO.
func New(ruleDAO dao.Service[string, permission.Rule]) *Service {
	return &Service{dao: ruleDAO, compiled: map[string]*regexp.Regexp{}}
}

// Match returns the winning rule for a request, or nil when no rule applies.
// Precedence: session-scoped rules are checked before global ones; within a
// scope the most specific pattern (longest expression) wins, ties broken by
// most recent creation. A match increments and persists the rule hit count.
func (s *Service) Match(ctx context.Context, request *permission.ActionRequest) (*permission.Rule, error) {
	rules, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	winner := s.matchScope(rules, request, permission.ScopeSession)
	if winner == nil {
		winner = s.matchScope(rules, request, permission.ScopeGlobal)
	}
	if winner == nil {
		return nil, nil
	}
	updated := s.recordHit(winner)
	if err = s.dao.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to persist rule hit count: %w", err)
	}
	return updated, nil
}

// recordHit publishes a copy of the rule with the incremented hit count.
// Rules handed out by Match and List are never mutated in place – the cache
// entry is swapped in a fresh slice so concurrent readers keep a consistent
// view.
func (s *Service) recordHit(winner *permission.Rule) *permission.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := winner
	if s.loaded {
		for _, rule := range s.cache {
			if rule.ID == winner.ID {
				current = rule
				break
			}
		}
	}
	updated := *current
	updated.HitCount++
	if s.loaded {
		next := make([]*permission.Rule, len(s.cache))
		copy(next, s.cache)
		for i, rule := range next {
			if rule.ID == updated.ID {
				next[i] = &updated
			}
		}
		s.cache = next
	}
	return &updated
}

func (s *Service) matchScope(rules []*permission.Rule, request *permission.ActionRequest, scope permission.RuleScope) *permission.Rule {
	var winner *permission.Rule
	for _, rule := range rules {
		if rule.Scope != scope || !rule.AppliesTo(request) {
			continue
		}
		pattern := s.pattern(rule)
		if pattern == nil || !pattern.MatchString(request.Target) {
			continue
		}
		if winner == nil || moreSpecific(rule, winner) {
			winner = rule
		}
	}
	return winner
}

// moreSpecific reports whether candidate takes precedence over current.
func moreSpecific(candidate, current *permission.Rule) bool {
	if len(candidate.Target) != len(current.Target) {
		return len(candidate.Target) > len(current.Target)
	}
	return candidate.CreatedAt.After(current.CreatedAt)
}

// Add validates and persists a rule. The ID and creation time are assigned
// when absent.
func (s *Service) Add(ctx context.Context, rule *permission.Rule) error {
	if rule == nil {
		return dao.ErrNilEntity
	}
	if rule.ID == "" {
		rule.ID = idgen.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = clock.Now()
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.dao.Save(ctx, rule); err != nil {
		return fmt.Errorf("failed to persist rule %s: %w", rule.ID, err)
	}
	s.invalidate()
	return nil
}

// Remove deletes a rule by id.
func (s *Service) Remove(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	if err := s.dao.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// List returns all rules ordered by creation time, oldest first.
func (s *Service) List(ctx context.Context) ([]*permission.Rule, error) {
	rules, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*permission.Rule, len(rules))
	copy(out, rules)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) snapshot(ctx context.Context) ([]*permission.Rule, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.cache, nil
	}
	s.mu.RUnlock()

	rules, err := s.dao.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = rules
	s.loaded = true
	return s.cache, nil
}

func (s *Service) pattern(rule *permission.Rule) *regexp.Regexp {
	s.mu.RLock()
	compiled, ok := s.compiled[rule.ID]
	s.mu.RUnlock()
	if ok {
		return compiled
	}
	compiled, err := regexp.Compile(rule.Target)
	if err != nil {
		// Validated on Add; a pattern that fails to compile here came from a
		// hand-edited store and is skipped rather than approved.
		return nil
	}
	s.mu.Lock()
	s.compiled[rule.ID] = compiled
	s.mu.Unlock()
	return compiled
}

func (s *Service) invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.loaded = false
	s.compiled = map[string]*regexp.Regexp{}
	s.mu.Unlock()
}
