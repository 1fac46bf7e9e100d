package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines storage for audit entries. Implementations are
// append-only; there is no update or delete.
type Repository interface {
	// Append durably records an entry and returns the stored copy.
	Append(ctx context.Context, rec Record) (*Entry, error)

	// QueryByTarget retrieves entries for a target, oldest first.
	// Limit 0 means no limit.
	QueryByTarget(ctx context.Context, targetType TargetType, targetID string, limit int) ([]*Entry, error)

	// QueryByActor retrieves entries for an actor, oldest first.
	QueryByActor(ctx context.Context, actorID string, limit int) ([]*Entry, error)

	// QueryByAction retrieves entries for one action type, oldest first.
	QueryByAction(ctx context.Context, action ActionType, limit int) ([]*Entry, error)

	// QueryFlagged retrieves abuse-flagged entries, oldest first.
	QueryFlagged(ctx context.Context, limit int) ([]*Entry, error)

	// QueryRange retrieves all entries within [from, to], oldest first.
	// Zero times leave that side of the range open.
	QueryRange(ctx context.Context, from, to time.Time, limit int) ([]*Entry, error)
}

// InMemoryRepository is an in-memory Repository used in tests and
// development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	// lastHash chains entries for tamper detection.
	lastHash string
}

// NewInMemoryRepository creates an empty in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append durably records an entry.
func (r *InMemoryRepository) Append(ctx context.Context, rec Record) (*Entry, error) {
	entry := newEntry(rec)

	r.mu.Lock()
	entry.PrevHash = r.lastHash
	r.lastHash = hashEntry(entry)
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	out := *entry
	return &out, nil
}

// QueryByTarget retrieves entries for a target, oldest first.
func (r *InMemoryRepository) QueryByTarget(ctx context.Context, targetType TargetType, targetID string, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool {
		return e.TargetType == targetType && e.TargetID == targetID
	}, limit)
}

// QueryByActor retrieves entries for an actor, oldest first.
func (r *InMemoryRepository) QueryByActor(ctx context.Context, actorID string, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool { return e.ActorID == actorID }, limit)
}

// QueryByAction retrieves entries for one action type, oldest first.
func (r *InMemoryRepository) QueryByAction(ctx context.Context, action ActionType, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool { return e.Action == action }, limit)
}

// QueryFlagged retrieves abuse-flagged entries, oldest first.
func (r *InMemoryRepository) QueryFlagged(ctx context.Context, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool { return e.IsFlagged }, limit)
}

// QueryRange retrieves entries within [from, to], oldest first.
func (r *InMemoryRepository) QueryRange(ctx context.Context, from, to time.Time, limit int) ([]*Entry, error) {
	return r.query(func(e *Entry) bool {
		if !from.IsZero() && e.CreatedAt.Before(from) {
			return false
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			return false
		}
		return true
	}, limit)
}

func (r *InMemoryRepository) query(match func(*Entry) bool, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for _, e := range r.entries {
		if !match(e) {
			continue
		}
		// Copy to prevent external modification
		out := *e
		results = append(results, &out)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// VerifyChain walks the hash chain and reports the index of the first
// entry whose PrevHash does not match, or -1 if the chain is intact.
func (r *InMemoryRepository) VerifyChain() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prev := ""
	for i, e := range r.entries {
		if e.PrevHash != prev {
			return i
		}
		prev = hashEntry(e)
	}
	return -1
}

func newEntry(rec Record) *Entry {
	roles := make([]string, len(rec.ActorRoles))
	copy(roles, rec.ActorRoles)
	return &Entry{
		ID:            uuid.New().String(),
		ActorID:       rec.ActorID,
		ActorRoles:    roles,
		Action:        rec.Action,
		TargetType:    rec.TargetType,
		TargetID:      rec.TargetID,
		Before:        rec.Before,
		After:         rec.After,
		Justification: rec.Justification,
		IsFlagged:     rec.IsFlagged,
		FlagReason:    rec.FlagReason,
		RequestID:     rec.RequestID,
		CreatedAt:     time.Now().UTC(),
	}
}

// hashEntry computes the SHA-256 hash of an entry's canonical JSON form,
// excluding nothing: the PrevHash field participates so the chain covers
// ordering as well as content.
func hashEntry(e *Entry) string {
	data, err := json.Marshal(e)
	if err != nil {
		// Entry fields are all JSON-encodable types; treat failure as
		// a programming error but keep the chain moving.
		data = []byte(fmt.Sprintf("%v", e))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
