package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/tienda-flor/storefront-api/internal/domain"
)

// notFoundError satisfies RepositoryError for missing records.
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string       { return e.msg }
func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }

// MemorySessionRepository keeps checkout sessions in process memory. It is
// used by tests and local development and honours the same persistence
// contract as the Firestore implementation, including dropping cart lines.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
}

// NewMemorySessionRepository constructs an empty in-memory session store.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]domain.CheckoutSession)}
}

// Get loads a session by id. Cart lines are always empty on load.
func (r *MemorySessionRepository) Get(_ context.Context, sessionID string) (domain.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return domain.CheckoutSession{}, &notFoundError{msg: "session repository: session not found"}
	}
	return cloneSession(session), nil
}

// Save persists the session, stripping cart lines per the storage contract.
func (r *MemorySessionRepository) Save(_ context.Context, session domain.CheckoutSession) (domain.CheckoutSession, error) {
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return domain.CheckoutSession{}, errors.New("session repository: session id is required")
	}

	stored := cloneSession(session)
	stored.Cart = nil

	r.mu.Lock()
	r.sessions[id] = stored
	r.mu.Unlock()

	return session, nil
}

// Delete removes the session; deleting a missing session is not an error.
func (r *MemorySessionRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(sessionID))
	return nil
}

// AcquireSubmitLock implements the in-flight submission flag.
func (r *MemorySessionRepository) AcquireSubmitLock(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return false, &notFoundError{msg: "session repository: session not found"}
	}
	if session.SubmitInFlight {
		return false, nil
	}
	session.SubmitInFlight = true
	r.sessions[strings.TrimSpace(sessionID)] = session
	return true, nil
}

// ReleaseSubmitLock clears the in-flight submission flag.
func (r *MemorySessionRepository) ReleaseSubmitLock(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil
	}
	session.SubmitInFlight = false
	r.sessions[strings.TrimSpace(sessionID)] = session
	return nil
}

func cloneSession(session domain.CheckoutSession) domain.CheckoutSession {
	dup := session
	if session.Cart != nil {
		dup.Cart = make([]domain.CartLine, len(session.Cart))
		copy(dup.Cart, session.Cart)
	}
	if session.CompletedSteps != nil {
		dup.CompletedSteps = make(map[domain.CheckoutStep]bool, len(session.CompletedSteps))
		for k, v := range session.CompletedSteps {
			dup.CompletedSteps[k] = v
		}
	}
	if session.ShippingCost != nil {
		cost := *session.ShippingCost
		dup.ShippingCost = &cost
	}
	return dup
}

// MemoryFinalizationRepository records finalized order ids in process memory.
type MemoryFinalizationRepository struct {
	mu        sync.Mutex
	finalized map[string]time.Time
}

// NewMemoryFinalizationRepository constructs an empty in-memory marker store.
func NewMemoryFinalizationRepository() *MemoryFinalizationRepository {
	return &MemoryFinalizationRepository{finalized: make(map[string]time.Time)}
}

// MarkFinalized records the order id once, returning false on repeats.
func (r *MemoryFinalizationRepository) MarkFinalized(_ context.Context, orderID string, at time.Time) (bool, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return false, errors.New("finalization repository: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.finalized[id]; ok {
		return false, nil
	}
	r.finalized[id] = at.UTC()
	return true, nil
}

// IsFinalized reports whether the order id has a marker.
func (r *MemoryFinalizationRepository) IsFinalized(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.finalized[strings.TrimSpace(orderID)]
	return ok, nil
}

var (
	_ CheckoutSessionRepository = (*MemorySessionRepository)(nil)
	_ FinalizationRepository    = (*MemoryFinalizationRepository)(nil)
)
