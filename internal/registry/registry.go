// Package registry is the in-memory session store - the single source of
// truth for session existence, usage counters, and cost totals.
package registry

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/scikido/meter/internal/allocation"
	"github.com/scikido/meter/internal/domain"
)

// entry wraps a session record with its own mutex so operations on the same
// session serialize without contending with unrelated sessions. The registry
// mutex covers only map mutation.
type entry struct {
	mu      sync.Mutex
	deleted bool
	session *domain.Session
}

// Registry holds all active sessions. Constructed once at process start and
// injected into the lifecycle controller; state does not survive a restart.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*entry
}

func New() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

// Create inserts a new session record. The duplicate-participant check and
// the insert happen under one lock, so two concurrent creates for the same
// address cannot both pass. Address comparison is case-insensitive. The
// registry stores its own copy; the caller's record is never mutated.
func (r *Registry) Create(session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byID {
		// ParticipantAddress is immutable after creation, safe to read here.
		if strings.EqualFold(e.session.ParticipantAddress, session.ParticipantAddress) {
			return &domain.DuplicateSessionError{
				Participant:       session.ParticipantAddress,
				ExistingSessionID: e.session.ID,
			}
		}
	}

	r.byID[session.ID] = &entry{session: snapshot(session)}
	return nil
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (r *Registry) Get(sessionID string) (*domain.Session, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrSessionNotFound
	}
	return snapshot(e.session), nil
}

// GetByParticipant scans for the session owned by the given address,
// case-insensitively.
func (r *Registry) GetByParticipant(address string) (*domain.Session, error) {
	r.mu.RLock()
	var found *entry
	for _, e := range r.byID {
		if strings.EqualFold(e.session.ParticipantAddress, address) {
			found = e
			break
		}
	}
	r.mu.RUnlock()

	if found == nil {
		return nil, domain.ErrSessionNotFound
	}

	found.mu.Lock()
	defer found.mu.Unlock()
	if found.deleted {
		return nil, domain.ErrSessionNotFound
	}
	return snapshot(found.session), nil
}

// IncrementUsage atomically checks the balance cap and, if the cost fits,
// adds 1 to the usage count and the cost to the running total. The check and
// the mutation happen under the session's lock, so two concurrent increments
// can never both pass against the same stale total. On a cap breach nothing
// changes and an InsufficientBalanceError carries the amounts.
func (r *Registry) IncrementUsage(sessionID string, cost decimal.Decimal) (*domain.Session, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrSessionNotFound
	}

	available := allocation.CurrentBalance(e.session.InitialAllocation, e.session.TotalCost)
	if cost.GreaterThan(available) {
		return nil, &domain.InsufficientBalanceError{Requested: cost, Available: available}
	}

	e.session.UsageCount++
	e.session.TotalCost = e.session.TotalCost.Add(cost)
	return snapshot(e.session), nil
}

// Remove atomically takes the session out of service and returns its final
// state. The deleted flag is set under the session's lock, so once Remove
// returns no increment can land: racing callers holding a stale handle see
// the flag and fail with ErrSessionNotFound.
func (r *Registry) Remove(sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	e, ok := r.byID[sessionID]
	if ok {
		delete(r.byID, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, domain.ErrSessionNotFound
	}
	e.deleted = true
	return snapshot(e.session), nil
}

// Delete removes the session. Returns false if it was already absent, which
// is not an error. A deleted session cannot be resurrected by id.
func (r *Registry) Delete(sessionID string) bool {
	r.mu.Lock()
	e, ok := r.byID[sessionID]
	if ok {
		delete(r.byID, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return true
}

// List returns a point-in-time snapshot of all sessions, for diagnostics.
func (r *Registry) List() []*domain.Session {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			sessions = append(sessions, snapshot(e.session))
		}
		e.mu.Unlock()
	}
	return sessions
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) lookup(sessionID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[sessionID]
	return e, ok
}

// snapshot copies the record so callers never hold a reference the registry
// keeps mutating. Keys and the connection handle are shared; both are fixed
// for the session's lifetime.
func snapshot(s *domain.Session) *domain.Session {
	copied := *s
	return &copied
}
