package registry

import (
	"sort"
	"sync"

	"github.com/nazarick/gatekeeper/model/permission"
)

// Service tracks connected agent sessions and their in-flight requests. It
// is in-memory only and authoritative solely for "who is still blocked";
// everything durable lives in the ledger. All mutations go through a single
// mutex, which makes the registry the at-most-once resolution point.
type Service struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Pending // session id -> request id -> pending
	pending  map[string]*Pending
}

// New creates an empty registry.
func New() *Service {
	return &Service{
		sessions: map[string]map[string]*Pending{},
		pending:  map[string]*Pending{},
	}
}

// Register announces a session. Registering an already-known session is a
// no-op so reconnects are harmless.
func (s *Service) Register(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = map[string]*Pending{}
	}
}

// Unregister removes a session and returns the request ids of its in-flight
// slots. The caller (the engine) resolves each one as denied – an agent
// disconnect must not leave ghost approvals behind. The slots stay tracked
// until that resolution so the ledger write remains the single authority.
func (s *Service) Unregister(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	requestIDs := make([]string, 0, len(slots))
	for requestID := range slots {
		requestIDs = append(requestIDs, requestID)
	}
	return requestIDs
}

// Track stores a pending slot under its request and session ids. The session
// is created implicitly when unknown.
func (s *Service) Track(pending *Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := pending.Request.SessionID
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = map[string]*Pending{}
	}
	s.sessions[sessionID][pending.Request.ID] = pending
	s.pending[pending.Request.ID] = pending
}

// Resolve removes the slot for a request and fulfils it with the
// authoritative decision. It returns the slot, or nil when the request was
// already resolved (or never pending) – later resolutions are no-ops.
func (s *Service) Resolve(requestID string, decision *permission.Decision) *Pending {
	s.mu.Lock()
	slot, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
		if session, found := s.sessions[slot.Request.SessionID]; found {
			delete(session, requestID)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	slot.fulfill(decision)
	return slot
}

// Lookup returns the pending slot for a request id, or nil.
func (s *Service) Lookup(requestID string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[requestID]
}

// Snapshot lists all pending slots ordered by creation time, oldest first.
// Used by operator fronts to catch up on subscribe.
func (s *Service) Snapshot() []*Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pending, 0, len(s.pending))
	for _, slot := range s.pending {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
