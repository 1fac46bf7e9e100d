// Package audit provides an append-only audit trail for candidate lifecycle
// actions, publish-gate decisions, approvals, and user management. Entries are
// immutable once written; corrections and abuse flags are recorded as new
// entries rather than mutations.
package audit

import (
	"time"
)

// ActionType identifies what kind of action an audit entry records.
// The set is closed: entries with an unknown action are rejected.
type ActionType string

const (
	ActionCandidateCreate      ActionType = "candidate.create"
	ActionCandidateUpdateState ActionType = "candidate.update_state"
	ActionCandidateUpdateRisk  ActionType = "candidate.update_risk_tier"
	ActionCandidateVerify      ActionType = "candidate.verify"
	ActionCandidatePublish     ActionType = "candidate.publish"

	ActionGateAllow ActionType = "gate.allow"
	ActionGateDeny  ActionType = "gate.deny"

	ActionApprovalRequested ActionType = "two_person.approval_requested"
	ActionApprovalGranted   ActionType = "two_person.approval_granted"
	ActionApprovalDenied    ActionType = "two_person.approval_denied"
	ActionApprovalExpired   ActionType = "two_person.approval_expired"
	ActionApprovalConsumed  ActionType = "two_person.approval_consumed"

	ActionAccessDenied ActionType = "access.denied"
	ActionAbuseFlagged ActionType = "abuse.flagged"

	ActionUserRoleChange ActionType = "user.role_change"
	ActionUserSuspend    ActionType = "user.suspend"
	ActionUserReinstate  ActionType = "user.reinstate"
)

// TargetType identifies what kind of object an entry refers to.
type TargetType string

const (
	TargetCandidate TargetType = "candidate"
	TargetApproval  TargetType = "approval"
	TargetUser      TargetType = "user"
	TargetSystem    TargetType = "system"
)

// validActions is the closed set of recordable actions.
var validActions = map[ActionType]bool{
	ActionCandidateCreate:      true,
	ActionCandidateUpdateState: true,
	ActionCandidateUpdateRisk:  true,
	ActionCandidateVerify:      true,
	ActionCandidatePublish:     true,
	ActionGateAllow:            true,
	ActionGateDeny:             true,
	ActionApprovalRequested:    true,
	ActionApprovalGranted:      true,
	ActionApprovalDenied:       true,
	ActionApprovalExpired:      true,
	ActionApprovalConsumed:     true,
	ActionAccessDenied:         true,
	ActionAbuseFlagged:         true,
	ActionUserRoleChange:       true,
	ActionUserSuspend:          true,
	ActionUserReinstate:        true,
}

// justificationRequired lists actions that may not be recorded without a
// human-supplied justification: risk-tier overrides, suspensions, and
// approval decisions carry accountability weight.
var justificationRequired = map[ActionType]bool{
	ActionCandidateUpdateRisk: true,
	ActionApprovalGranted:     true,
	ActionApprovalDenied:      true,
	ActionUserSuspend:         true,
}

// Entry is a single immutable audit record.
type Entry struct {
	ID string

	// ActorID is the user who performed the action. ActorRoles snapshots
	// the actor's roles at the time of the action so later role changes
	// do not rewrite history.
	ActorID    string
	ActorRoles []string

	Action     ActionType
	TargetType TargetType
	TargetID   string

	// Before and After capture the relevant state either side of the
	// action, keyed by field name.
	Before map[string]any
	After  map[string]any

	Justification string

	// IsFlagged marks entries written by abuse detection. A flag never
	// mutates the entries it refers to; it is always a fresh entry.
	IsFlagged  bool
	FlagReason string

	RequestID string
	CreatedAt time.Time

	// PrevHash is the SHA-256 hash of the previous entry for tamper
	// detection. Empty for the first entry.
	PrevHash string
}

// Record is the input for appending an audit entry.
type Record struct {
	ActorID    string
	ActorRoles []string

	Action     ActionType
	TargetType TargetType
	TargetID   string

	Before map[string]any
	After  map[string]any

	Justification string

	IsFlagged  bool
	FlagReason string

	RequestID string
}
