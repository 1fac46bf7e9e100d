// Package abuse detects rapid-fire override patterns that may indicate a
// compromised or misbehaving account. Overrides are tracked per user in a
// sliding window; crossing the threshold raises a flagged audit entry and
// an operator alert.
package abuse

import (
	"context"
	"sync"
	"time"
)

// Override is one recorded override action.
type Override struct {
	UserID     string
	ActionType string
	TargetID   string
	At         time.Time
}

// Tracker stores recent override activity per user. Implementations
// prune entries older than the window they are asked about.
type Tracker interface {
	// Record stores one override.
	Record(ctx context.Context, o Override) error

	// RecentSince returns the user's overrides at or after cutoff,
	// oldest first.
	RecentSince(ctx context.Context, userID string, cutoff time.Time) ([]Override, error)

	// LastAlert returns when the user was last alerted on, zero time
	// if never.
	LastAlert(ctx context.Context, userID string) (time.Time, error)

	// MarkAlert records that the user was alerted on at t.
	MarkAlert(ctx context.Context, userID string, t time.Time) error

	// Clear drops the user's history and alert state, used on
	// suspension.
	Clear(ctx context.Context, userID string) error
}

// MemoryTracker is a single-process Tracker for tests and local
// development.
type MemoryTracker struct {
	mu      sync.Mutex
	history map[string][]Override
	alerts  map[string]time.Time
}

// NewMemoryTracker returns an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		history: make(map[string][]Override),
		alerts:  make(map[string]time.Time),
	}
}

// Record stores one override.
func (t *MemoryTracker) Record(ctx context.Context, o Override) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[o.UserID] = append(t.history[o.UserID], o)
	return nil
}

// RecentSince returns the user's overrides at or after cutoff.
func (t *MemoryTracker) RecentSince(ctx context.Context, userID string, cutoff time.Time) ([]Override, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.history[userID][:0]
	for _, o := range t.history[userID] {
		if !o.At.Before(cutoff) {
			kept = append(kept, o)
		}
	}
	t.history[userID] = kept

	out := make([]Override, len(kept))
	copy(out, kept)
	return out, nil
}

// LastAlert returns the user's last alert time.
func (t *MemoryTracker) LastAlert(ctx context.Context, userID string) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alerts[userID], nil
}

// MarkAlert records an alert time for the user.
func (t *MemoryTracker) MarkAlert(ctx context.Context, userID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts[userID] = at
	return nil
}

// Clear drops the user's history and alert state.
func (t *MemoryTracker) Clear(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.history, userID)
	delete(t.alerts, userID)
	return nil
}
