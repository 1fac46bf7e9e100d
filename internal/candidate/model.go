// Package candidate defines the unit of publishable information and its
// storage. A candidate is promoted from a signal cluster, carries the five
// semantic fields plus evidence and conflicts, and moves through readiness
// and risk states until it is published or retired.
package candidate

import (
	"strings"
	"time"
)

// FieldKey names one of the semantic fields.
type FieldKey string

const (
	FieldWhat   FieldKey = "what"
	FieldWhere  FieldKey = "where"
	FieldWhen   FieldKey = "when"
	FieldWho    FieldKey = "who"
	FieldSoWhat FieldKey = "so_what"
	// FieldEvidence is a pseudo-field used in evaluations.
	FieldEvidence FieldKey = "evidence"
)

// RequiredFields are the fields a candidate needs for publication.
var RequiredFields = []FieldKey{FieldWhat, FieldWhere, FieldWhen, FieldWho, FieldSoWhat}

// CriticalFields block publication outright when missing.
var CriticalFields = []FieldKey{FieldWhat, FieldWhere, FieldWhen}

// Fields holds the candidate's semantic content. All values are optional
// free text from untrusted input.
type Fields struct {
	What   string
	Where  string
	When   string
	Who    string
	SoWhat string
}

// Get returns the value for a field key, empty for unknown keys.
func (f Fields) Get(key FieldKey) string {
	switch key {
	case FieldWhat:
		return f.What
	case FieldWhere:
		return f.Where
	case FieldWhen:
		return f.When
	case FieldWho:
		return f.Who
	case FieldSoWhat:
		return f.SoWhat
	default:
		return ""
	}
}

// Citation is one piece of supporting evidence.
type Citation struct {
	URL         string
	SourceName  string
	Description string
	RetrievedAt *time.Time
}

// VerificationMethod describes how information was verified.
type VerificationMethod string

const (
	VerifyAuthoritativeSource VerificationMethod = "authoritative_source"
	VerifyMultipleIndependent VerificationMethod = "multiple_independent"
	VerifyDirectObservation   VerificationMethod = "direct_observation"
	VerifyExpertConfirmation  VerificationMethod = "expert_confirmation"
)

// ConfidenceLevel grades a verification.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Verification records a completed verification action.
type Verification struct {
	VerifiedBy string
	VerifiedAt time.Time
	Method     VerificationMethod
	Notes      string
	Confidence ConfidenceLevel
}

// ConflictSeverity grades an unresolved conflict.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// severityRank orders severities for threshold comparison.
var severityRank = map[ConflictSeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is of the given severity or worse.
func (s ConflictSeverity) AtLeast(threshold ConflictSeverity) bool {
	return severityRank[s] >= severityRank[threshold]
}

// Conflict is a contradiction between sources on one field.
type Conflict struct {
	ID              string
	Field           FieldKey
	Description     string
	Severity        ConflictSeverity
	Resolved        bool
	ResolutionNotes string
}

// ReadinessState is the publishability classification.
type ReadinessState string

const (
	ReadyVerified ReadinessState = "ready_verified"
	ReadyInReview ReadinessState = "ready_in_review"
	Blocked       ReadinessState = "blocked"
)

// RiskTier is the severity classification driving gate strictness.
type RiskTier string

const (
	TierRoutine    RiskTier = "routine"
	TierElevated   RiskTier = "elevated"
	TierHighStakes RiskTier = "high_stakes"
)

// ValidTiers is the closed set of risk tiers.
var ValidTiers = map[RiskTier]bool{
	TierRoutine:    true,
	TierElevated:   true,
	TierHighStakes: true,
}

// TierOverride is a human override of the computed risk tier. It always
// carries a justification and stays distinct from the computed value.
type TierOverride struct {
	PreviousTier  RiskTier
	NewTier       RiskTier
	OverriddenBy  string
	OverriddenAt  time.Time
	Justification string
	// Revision pins the candidate revision the override was issued
	// against. A later reclassification invalidates the override.
	Revision int
}

// IssueSeverity grades a blocking issue found during evaluation.
type IssueSeverity string

const (
	IssueBlocksPublishing  IssueSeverity = "blocks_publishing"
	IssueRequiresAttention IssueSeverity = "requires_attention"
	IssueWarning           IssueSeverity = "warning"
)

// BlockingIssue is one obstacle to publication, with a machine-checkable
// code and human text.
type BlockingIssue struct {
	Code        string
	Description string
	Severity    IssueSeverity
}

// ActionType names a recommended next action for a candidate.
type ActionType string

const (
	ActionAssignVerification ActionType = "assign_verification"
	ActionResolveConflict    ActionType = "resolve_conflict"
	ActionAddEvidence        ActionType = "add_evidence"
	ActionReadyToPublish     ActionType = "ready_to_publish"
)

// RecommendedAction is the suggested next step for a candidate.
type RecommendedAction struct {
	Action       ActionType
	Reason       string
	Alternatives []ActionType
}

// Candidate is the unit of information under evaluation for publication.
// Candidates are never hard-deleted.
type Candidate struct {
	ID        string
	ClusterID string

	Fields   Fields
	Evidence []Citation

	Verifications []Verification
	Conflicts     []Conflict

	ReadinessState     ReadinessState
	ReadinessUpdatedAt time.Time
	MissingFields      []FieldKey
	BlockingIssues     []BlockingIssue
	RecommendedAction  *RecommendedAction

	RiskTier     RiskTier
	TierOverride *TierOverride

	PublishedAt *time.Time
	PublishedBy string

	// Revision increments on every persisted change; conditional updates
	// key off it so concurrent writers cannot lose updates.
	Revision int

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
}

// IsVerified reports whether at least one verification record exists.
func (c *Candidate) IsVerified() bool {
	return len(c.Verifications) > 0
}

// HasUnresolvedConflicts reports whether any conflict remains open.
func (c *Candidate) HasUnresolvedConflicts() bool {
	for _, conflict := range c.Conflicts {
		if !conflict.Resolved {
			return true
		}
	}
	return false
}

// UnresolvedConflictAtLeast reports whether any open conflict meets the
// severity threshold.
func (c *Candidate) UnresolvedConflictAtLeast(threshold ConflictSeverity) bool {
	for _, conflict := range c.Conflicts {
		if !conflict.Resolved && conflict.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}

// EffectiveTier returns the override tier when an override is active for
// the candidate's current revision, otherwise the computed tier.
func (c *Candidate) EffectiveTier() RiskTier {
	if c.TierOverride != nil && c.TierOverride.Revision == c.Revision {
		return c.TierOverride.NewTier
	}
	return c.RiskTier
}

// CombinedText joins all field content for risk signal scanning.
func (c *Candidate) CombinedText() string {
	parts := make([]string, 0, 5)
	for _, key := range RequiredFields {
		if v := c.Fields.Get(key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
