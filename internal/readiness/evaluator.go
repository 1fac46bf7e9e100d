// Package readiness evaluates whether a candidate is publishable. The
// evaluation is deterministic: field completeness, evidence, conflicts,
// and verification status map to a readiness state, a set of blocking
// issues, and a recommended next action. An optional scorer can refine
// per-field quality, but state decisions always come from the rules.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/candidate"
)

// FieldStatus grades a single field.
type FieldStatus string

const (
	StatusComplete FieldStatus = "complete"
	StatusPartial  FieldStatus = "partial"
	StatusMissing  FieldStatus = "missing"
)

// Method records how an evaluation was produced.
type Method string

const (
	MethodRuleBased Method = "rule_based"
	MethodScored    Method = "scored"
)

// Issue type codes attached to blocking issues.
const (
	IssueMissingField         = "missing_field"
	IssueUnresolvedConflict   = "unresolved_conflict"
	IssueVerificationRequired = "verification_required"
	IssueMissingEvidence      = "missing_evidence"
	IssuePartialField         = "partial_field"
)

// FieldEvaluation is the assessment of one field.
type FieldEvaluation struct {
	Field  candidate.FieldKey
	Status FieldStatus
	Value  string
	Notes  string
}

// Evaluation is the full readiness result for a candidate.
type Evaluation struct {
	CandidateID       string
	State             candidate.ReadinessState
	FieldEvaluations  []FieldEvaluation
	MissingFields     []candidate.FieldKey
	BlockingIssues    []candidate.BlockingIssue
	RecommendedAction *candidate.RecommendedAction
	Explanation       string
	EvaluatedAt       time.Time
	Method            Method
}

// Scorer refines per-field quality, typically via a language model. It
// may fail or be degraded; the evaluator falls back to rules.
type Scorer interface {
	ScoreFields(ctx context.Context, c *candidate.Candidate) (map[candidate.FieldKey]FieldStatus, error)
}

// Config tunes the rule evaluation.
type Config struct {
	// MinFieldLength is the minimum trimmed length before a field
	// counts as complete.
	MinFieldLength int

	// BlockingConflictSeverity is the minimum open conflict severity
	// that blocks publishing. Conflicts below it surface as
	// requires_attention issues instead.
	BlockingConflictSeverity candidate.ConflictSeverity

	// VagueIndicators are whole values treated as placeholders.
	VagueIndicators []string
}

// DefaultConfig returns the standard evaluation thresholds.
func DefaultConfig() Config {
	return Config{
		MinFieldLength:           5,
		BlockingConflictSeverity: candidate.SeverityHigh,
		VagueIndicators: []string{
			"unknown",
			"tbd",
			"to be determined",
			"unclear",
			"unspecified",
			"?",
			"n/a",
		},
	}
}

// Evaluator computes readiness evaluations.
type Evaluator struct {
	cfg    Config
	scorer Scorer
	logger *slog.Logger
}

// NewEvaluator returns an evaluator. scorer may be nil for pure
// rule-based evaluation.
func NewEvaluator(cfg Config, scorer Scorer, logger *slog.Logger) *Evaluator {
	if cfg.MinFieldLength <= 0 {
		cfg.MinFieldLength = DefaultConfig().MinFieldLength
	}
	if cfg.BlockingConflictSeverity == "" {
		cfg.BlockingConflictSeverity = DefaultConfig().BlockingConflictSeverity
	}
	if len(cfg.VagueIndicators) == 0 {
		cfg.VagueIndicators = DefaultConfig().VagueIndicators
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, scorer: scorer, logger: logger}
}

// Evaluate computes the readiness evaluation for c. It is deterministic
// and never mutates c; model-assisted scoring lives in Annotate.
func (e *Evaluator) Evaluate(c *candidate.Candidate) Evaluation {
	fields := e.evaluateFields(c)
	method := MethodRuleBased

	var missing []candidate.FieldKey
	var partial []candidate.FieldKey
	for _, fe := range fields {
		switch fe.Status {
		case StatusMissing:
			missing = append(missing, fe.Field)
		case StatusPartial:
			partial = append(partial, fe.Field)
		}
	}

	issues := e.collectIssues(c, missing, partial)

	state, explanation := deriveState(c, missing, issues)
	action := recommend(c, state, missing)

	e.logger.Info("readiness evaluation completed",
		"candidate_id", c.ID,
		"readiness_state", string(state),
		"missing_fields", fieldNames(missing),
		"blocking_issue_count", len(issues),
		"method", string(method))

	return Evaluation{
		CandidateID:       c.ID,
		State:             state,
		FieldEvaluations:  fields,
		MissingFields:     missing,
		BlockingIssues:    issues,
		RecommendedAction: action,
		Explanation:       explanation,
		EvaluatedAt:       time.Now().UTC(),
		Method:            method,
	}
}

// Annotate refines eval's per-field statuses with the configured scorer.
// The scores are advisory: the readiness state, missing fields, and
// blocking issues are never recomputed from them. Returns eval unchanged
// when no scorer is configured or scoring fails.
func (e *Evaluator) Annotate(ctx context.Context, c *candidate.Candidate, eval Evaluation) Evaluation {
	if e.scorer == nil {
		return eval
	}
	scored, err := e.scorer.ScoreFields(ctx, c)
	if err != nil {
		e.logger.Warn("field scoring failed, keeping rule-based statuses",
			"candidate_id", c.ID,
			"error", err)
		return eval
	}
	eval.FieldEvaluations = mergeScores(eval.FieldEvaluations, scored)
	eval.Method = MethodScored
	return eval
}

// Apply writes an evaluation's results onto c. Field evaluations are
// advisory and not persisted.
func Apply(c *candidate.Candidate, eval Evaluation) {
	c.ReadinessState = eval.State
	c.ReadinessUpdatedAt = eval.EvaluatedAt
	c.MissingFields = eval.MissingFields
	c.BlockingIssues = eval.BlockingIssues
	c.RecommendedAction = eval.RecommendedAction
}

func (e *Evaluator) evaluateFields(c *candidate.Candidate) []FieldEvaluation {
	out := make([]FieldEvaluation, 0, len(candidate.RequiredFields)+1)
	for _, key := range candidate.RequiredFields {
		value := c.Fields.Get(key)
		out = append(out, FieldEvaluation{
			Field:  key,
			Status: e.assessField(value),
			Value:  value,
			Notes:  e.fieldNotes(key, value),
		})
	}

	n := len(c.Evidence)
	status := StatusMissing
	switch {
	case n >= 2:
		status = StatusComplete
	case n == 1:
		status = StatusPartial
	}
	out = append(out, FieldEvaluation{
		Field:  candidate.FieldEvidence,
		Status: status,
		Value:  fmt.Sprintf("%d sources", n),
		Notes:  fmt.Sprintf("has %d evidence source(s)", n),
	})
	return out
}

func (e *Evaluator) assessField(value string) FieldStatus {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return StatusMissing
	}
	lower := strings.ToLower(trimmed)
	for _, v := range e.cfg.VagueIndicators {
		if lower == v {
			return StatusPartial
		}
	}
	if len(trimmed) < e.cfg.MinFieldLength {
		return StatusPartial
	}
	return StatusComplete
}

func (e *Evaluator) fieldNotes(field candidate.FieldKey, value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Sprintf("%q is empty or not provided", field)
	}
	if len(trimmed) < e.cfg.MinFieldLength {
		return fmt.Sprintf("%q value is too short to be meaningful", field)
	}
	return fmt.Sprintf("%q appears adequately specified", field)
}

func (e *Evaluator) collectIssues(c *candidate.Candidate, missing, partial []candidate.FieldKey) []candidate.BlockingIssue {
	var issues []candidate.BlockingIssue

	for _, field := range candidate.CriticalFields {
		if containsField(missing, field) {
			issues = append(issues, candidate.BlockingIssue{
				Code:        IssueMissingField,
				Description: fmt.Sprintf("critical field %q is missing", field),
				Severity:    candidate.IssueBlocksPublishing,
			})
		}
	}

	if c.UnresolvedConflictAtLeast(e.cfg.BlockingConflictSeverity) {
		issues = append(issues, candidate.BlockingIssue{
			Code:        IssueUnresolvedConflict,
			Description: "candidate has unresolved conflicts that must be resolved before verification",
			Severity:    candidate.IssueBlocksPublishing,
		})
	} else if c.HasUnresolvedConflicts() {
		issues = append(issues, candidate.BlockingIssue{
			Code:        IssueUnresolvedConflict,
			Description: "candidate has open conflicts below the blocking severity threshold",
			Severity:    candidate.IssueRequiresAttention,
		})
	}

	if c.EffectiveTier() == candidate.TierHighStakes && !c.IsVerified() {
		issues = append(issues, candidate.BlockingIssue{
			Code:        IssueVerificationRequired,
			Description: "high-stakes item requires verification before publishing",
			Severity:    candidate.IssueBlocksPublishing,
		})
	}

	if len(c.Evidence) == 0 {
		issues = append(issues, candidate.BlockingIssue{
			Code:        IssueMissingEvidence,
			Description: "no supporting evidence sources provided",
			Severity:    candidate.IssueRequiresAttention,
		})
	}

	for _, field := range partial {
		issues = append(issues, candidate.BlockingIssue{
			Code:        IssuePartialField,
			Description: fmt.Sprintf("field %q is incomplete or vague", field),
			Severity:    candidate.IssueWarning,
		})
	}

	return issues
}

func deriveState(c *candidate.Candidate, missing []candidate.FieldKey, issues []candidate.BlockingIssue) (candidate.ReadinessState, string) {
	var blockers []string
	for _, issue := range issues {
		if issue.Severity == candidate.IssueBlocksPublishing {
			blockers = append(blockers, issue.Description)
		}
	}
	if len(blockers) > 0 {
		return candidate.Blocked, "candidate is blocked due to: " + strings.Join(blockers, "; ")
	}
	if c.IsVerified() && len(missing) == 0 {
		return candidate.ReadyVerified, "all required fields present and verified"
	}
	if len(missing) > 0 {
		return candidate.ReadyInReview,
			"minimum fields present but missing: " + strings.Join(fieldNames(missing), ", ")
	}
	return candidate.ReadyInReview, "minimum fields present, awaiting verification"
}

func recommend(c *candidate.Candidate, state candidate.ReadinessState, missing []candidate.FieldKey) *candidate.RecommendedAction {
	if c.EffectiveTier() == candidate.TierHighStakes && !c.IsVerified() {
		return &candidate.RecommendedAction{
			Action:       candidate.ActionAssignVerification,
			Reason:       "high-stakes item requires verification before publishing",
			Alternatives: []candidate.ActionType{candidate.ActionResolveConflict, candidate.ActionAddEvidence},
		}
	}
	if c.HasUnresolvedConflicts() {
		return &candidate.RecommendedAction{
			Action:       candidate.ActionResolveConflict,
			Reason:       "unresolved conflicts must be addressed before proceeding",
			Alternatives: []candidate.ActionType{candidate.ActionAssignVerification},
		}
	}
	var criticalMissing []string
	for _, field := range candidate.CriticalFields {
		if containsField(missing, field) {
			criticalMissing = append(criticalMissing, string(field))
		}
	}
	if len(criticalMissing) > 0 {
		return &candidate.RecommendedAction{
			Action: candidate.ActionAddEvidence,
			Reason: "missing critical fields: " + strings.Join(criticalMissing, ", "),
		}
	}
	if state == candidate.ReadyInReview && !c.IsVerified() {
		return &candidate.RecommendedAction{
			Action:       candidate.ActionAssignVerification,
			Reason:       "minimum fields present, ready for verification",
			Alternatives: []candidate.ActionType{candidate.ActionAddEvidence},
		}
	}
	if state == candidate.ReadyVerified {
		return &candidate.RecommendedAction{
			Action: candidate.ActionReadyToPublish,
			Reason: "all fields complete and verified, ready to publish",
		}
	}
	return nil
}

func mergeScores(fields []FieldEvaluation, scored map[candidate.FieldKey]FieldStatus) []FieldEvaluation {
	out := make([]FieldEvaluation, len(fields))
	for i, fe := range fields {
		if status, ok := scored[fe.Field]; ok {
			fe.Status = status
		}
		out[i] = fe
	}
	return out
}

func containsField(fields []candidate.FieldKey, key candidate.FieldKey) bool {
	for _, f := range fields {
		if f == key {
			return true
		}
	}
	return false
}

func fieldNames(fields []candidate.FieldKey) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
