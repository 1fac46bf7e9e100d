package approval

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an approval does not exist.
	ErrNotFound = errors.New("approval not found")

	// ErrDuplicatePending is returned when a candidate already has a
	// pending approval.
	ErrDuplicatePending = errors.New("candidate already has a pending approval")

	// ErrAlreadyResolved is returned when transitioning an approval
	// that is no longer pending.
	ErrAlreadyResolved = errors.New("approval already resolved")

	// ErrNotConsumable is returned when consuming an approval that is
	// not granted or was already consumed.
	ErrNotConsumable = errors.New("approval not consumable")
)

// Repository is the storage interface for approvals. Implementations
// must make Create and the state transitions atomic: at most one pending
// approval per candidate, and each transition exactly once.
type Repository interface {
	// Create persists a new pending approval, enforcing at most one
	// pending approval per candidate.
	Create(ctx context.Context, a *Approval) (*Approval, error)

	// Get returns an approval by ID.
	Get(ctx context.Context, id string) (*Approval, error)

	// PendingForCandidate returns the candidate's pending approval, or
	// ErrNotFound.
	PendingForCandidate(ctx context.Context, candidateID string) (*Approval, error)

	// Resolve moves a pending approval to a terminal state. Returns
	// ErrAlreadyResolved if the approval is not pending.
	Resolve(ctx context.Context, id string, to Status, decidedBy, justification string, decidedAt time.Time) (*Approval, error)

	// Consume marks a granted, unconsumed approval as spent. Returns
	// ErrNotConsumable otherwise.
	Consume(ctx context.Context, id, consumedBy string, consumedAt time.Time) (*Approval, error)

	// ListExpiredPending returns pending approvals whose deadline
	// passed before now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Approval, error)

	// ListByCandidate returns a candidate's approvals, newest first.
	ListByCandidate(ctx context.Context, candidateID string) ([]*Approval, error)
}

// InMemoryRepository is a thread-safe in-memory Repository for tests and
// local development.
type InMemoryRepository struct {
	mu        sync.Mutex
	approvals map[string]*Approval
	// pendingByCandidate indexes the single pending approval per
	// candidate.
	pendingByCandidate map[string]string
}

// NewInMemoryRepository returns an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		approvals:          make(map[string]*Approval),
		pendingByCandidate: make(map[string]string),
	}
}

// Create persists a new pending approval.
func (r *InMemoryRepository) Create(ctx context.Context, a *Approval) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pendingByCandidate[a.CandidateID]; exists {
		return nil, ErrDuplicatePending
	}

	stored := *a
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Status = StatusPending
	if stored.RequestedAt.IsZero() {
		stored.RequestedAt = time.Now().UTC()
	}

	r.approvals[stored.ID] = &stored
	r.pendingByCandidate[stored.CandidateID] = stored.ID
	out := stored
	return &out, nil
}

// Get returns an approval by ID.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

// PendingForCandidate returns the candidate's pending approval.
func (r *InMemoryRepository) PendingForCandidate(ctx context.Context, candidateID string) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.pendingByCandidate[candidateID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r.approvals[id]
	return &out, nil
}

// Resolve moves a pending approval to a terminal state.
func (r *InMemoryRepository) Resolve(ctx context.Context, id string, to Status, decidedBy, justification string, decidedAt time.Time) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	a.Status = to
	a.DecidedBy = decidedBy
	a.Justification = justification
	t := decidedAt
	a.DecidedAt = &t
	delete(r.pendingByCandidate, a.CandidateID)

	out := *a
	return &out, nil
}

// Consume marks a granted, unconsumed approval as spent. A grant past
// its deadline is no longer spendable.
func (r *InMemoryRepository) Consume(ctx context.Context, id, consumedBy string, consumedAt time.Time) (*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.Status != StatusGranted || a.ConsumedAt != nil || consumedAt.After(a.ExpiresAt) {
		return nil, ErrNotConsumable
	}

	a.ConsumedBy = consumedBy
	t := consumedAt
	a.ConsumedAt = &t

	out := *a
	return &out, nil
}

// ListByCandidate returns a candidate's approvals, newest first.
func (r *InMemoryRepository) ListByCandidate(ctx context.Context, candidateID string) ([]*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Approval, 0)
	for _, a := range r.approvals {
		if a.CandidateID == candidateID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// ListExpiredPending returns pending approvals past their deadline.
func (r *InMemoryRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Approval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Approval, 0)
	for _, id := range r.pendingByCandidate {
		a := r.approvals[id]
		if now.After(a.ExpiresAt) {
			cp := *a
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
