// Package approval implements the two-person rule for publishing. A
// requester asks for approval on a candidate; a different user grants or
// denies it. Approvals expire, terminal states are immutable, and a
// granted approval authorizes exactly one publish.
package approval

import "time"

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusExpired Status = "expired"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusGranted || s == StatusDenied || s == StatusExpired
}

// Approval is one two-person approval request.
type Approval struct {
	ID          string
	CandidateID string

	RequestedBy string
	Reason      string
	RequestedAt time.Time
	ExpiresAt   time.Time

	Status Status

	// Decision fields, set when the approval leaves pending.
	DecidedBy     string
	DecidedAt     *time.Time
	Justification string

	// Consumption fields, set when a granted approval is spent on a
	// publish.
	ConsumedBy string
	ConsumedAt *time.Time
}

// Consumed reports whether a granted approval has already been spent.
func (a *Approval) Consumed() bool {
	return a.ConsumedAt != nil
}

// ExpiredBy reports whether a pending approval has passed its deadline.
func (a *Approval) ExpiredBy(now time.Time) bool {
	return a.Status == StatusPending && now.After(a.ExpiresAt)
}
