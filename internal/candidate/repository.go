package candidate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a candidate does not exist.
	ErrNotFound = errors.New("candidate not found")

	// ErrRevisionConflict is returned when an update carries a stale
	// revision; callers should re-read and retry.
	ErrRevisionConflict = errors.New("candidate revision conflict")
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ClusterID string
	Readiness ReadinessState
	Tier      RiskTier
	// Unpublished selects candidates without a publish timestamp.
	Unpublished bool
	Limit       int
}

// Repository is the storage interface for candidates.
type Repository interface {
	// Create persists a new candidate and returns the stored copy.
	Create(ctx context.Context, c *Candidate) (*Candidate, error)

	// Get returns a candidate by ID.
	Get(ctx context.Context, id string) (*Candidate, error)

	// Update persists c if its Revision matches the stored revision,
	// incrementing the revision on success. Returns
	// ErrRevisionConflict otherwise.
	Update(ctx context.Context, c *Candidate) (*Candidate, error)

	// List returns candidates matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Candidate, error)
}

// InMemoryRepository is a thread-safe in-memory Repository for tests and
// local development.
type InMemoryRepository struct {
	mu         sync.RWMutex
	candidates map[string]*Candidate
}

// NewInMemoryRepository returns an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{candidates: make(map[string]*Candidate)}
}

// Create persists a new candidate.
func (r *InMemoryRepository) Create(ctx context.Context, c *Candidate) (*Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := cloneCandidate(c)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Revision = 1
	if stored.ReadinessState == "" {
		stored.ReadinessState = ReadyInReview
	}
	if stored.RiskTier == "" {
		stored.RiskTier = TierRoutine
	}
	stored.ReadinessUpdatedAt = now

	r.candidates[stored.ID] = stored
	return cloneCandidate(stored), nil
}

// Get returns a candidate by ID.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.candidates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCandidate(c), nil
}

// Update persists c under an optimistic revision check.
func (r *InMemoryRepository) Update(ctx context.Context, c *Candidate) (*Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.candidates[c.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Revision != c.Revision {
		return nil, ErrRevisionConflict
	}

	stored := cloneCandidate(c)
	stored.Revision = current.Revision + 1
	stored.CreatedAt = current.CreatedAt
	stored.CreatedBy = current.CreatedBy
	stored.UpdatedAt = time.Now().UTC()

	r.candidates[stored.ID] = stored
	return cloneCandidate(stored), nil
}

// List returns candidates matching the filter, newest first.
func (r *InMemoryRepository) List(ctx context.Context, f Filter) ([]*Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Candidate, 0)
	for _, c := range r.candidates {
		if !matches(c, f) {
			continue
		}
		out = append(out, cloneCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(c *Candidate, f Filter) bool {
	if f.ClusterID != "" && c.ClusterID != f.ClusterID {
		return false
	}
	if f.Readiness != "" && c.ReadinessState != f.Readiness {
		return false
	}
	if f.Tier != "" && c.EffectiveTier() != f.Tier {
		return false
	}
	if f.Unpublished && c.PublishedAt != nil {
		return false
	}
	return true
}

func cloneCandidate(c *Candidate) *Candidate {
	cp := *c
	cp.Evidence = append([]Citation(nil), c.Evidence...)
	cp.Verifications = append([]Verification(nil), c.Verifications...)
	cp.Conflicts = append([]Conflict(nil), c.Conflicts...)
	cp.MissingFields = append([]FieldKey(nil), c.MissingFields...)
	cp.BlockingIssues = append([]BlockingIssue(nil), c.BlockingIssues...)
	if c.RecommendedAction != nil {
		ra := *c.RecommendedAction
		ra.Alternatives = append([]ActionType(nil), c.RecommendedAction.Alternatives...)
		cp.RecommendedAction = &ra
	}
	if c.TierOverride != nil {
		ov := *c.TierOverride
		cp.TierOverride = &ov
	}
	if c.PublishedAt != nil {
		t := *c.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}
