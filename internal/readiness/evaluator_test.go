package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ai4altruism/integritykit/internal/candidate"
)

func completeCandidate() *candidate.Candidate {
	return &candidate.Candidate{
		ID: "cand-1",
		Fields: candidate.Fields{
			What:   "Warming center open at the community hall",
			Where:  "412 Main St",
			When:   "Tonight from 6pm",
			Who:    "County emergency services",
			SoWhat: "Overnight shelter available for displaced residents",
		},
		Evidence: []candidate.Citation{
			{URL: "https://example.org/press", SourceName: "County OEM"},
			{URL: "https://example.org/news", SourceName: "Local news"},
		},
		RiskTier: candidate.TierRoutine,
	}
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultConfig(), nil, nil)
}

func TestEvaluateVerifiedComplete(t *testing.T) {
	c := completeCandidate()
	c.Verifications = []candidate.Verification{{
		VerifiedBy: "verifier-1",
		VerifiedAt: time.Now().UTC(),
		Method:     candidate.VerifyAuthoritativeSource,
		Confidence: candidate.ConfidenceHigh,
	}}

	eval := newTestEvaluator().Evaluate(c)

	if eval.State != candidate.ReadyVerified {
		t.Errorf("State = %q, want %q", eval.State, candidate.ReadyVerified)
	}
	if len(eval.MissingFields) != 0 {
		t.Errorf("MissingFields = %v, want none", eval.MissingFields)
	}
	if eval.RecommendedAction == nil || eval.RecommendedAction.Action != candidate.ActionReadyToPublish {
		t.Errorf("RecommendedAction = %+v, want ready_to_publish", eval.RecommendedAction)
	}
}

func TestEvaluateMissingFields(t *testing.T) {
	c := &candidate.Candidate{
		ID: "cand-2",
		Fields: candidate.Fields{
			What:  "Road washed out near the river crossing",
			Where: "Highway 9 at mile marker 12",
		},
		RiskTier: candidate.TierRoutine,
	}

	eval := newTestEvaluator().Evaluate(c)

	wantMissing := []candidate.FieldKey{
		candidate.FieldWhen, candidate.FieldWho, candidate.FieldSoWhat, candidate.FieldEvidence,
	}
	if len(eval.MissingFields) != len(wantMissing) {
		t.Fatalf("MissingFields = %v, want %v", eval.MissingFields, wantMissing)
	}
	for i, want := range wantMissing {
		if eval.MissingFields[i] != want {
			t.Errorf("MissingFields[%d] = %q, want %q", i, eval.MissingFields[i], want)
		}
	}

	// "when" is critical, so the candidate is blocked outright.
	if eval.State != candidate.Blocked {
		t.Errorf("State = %q, want %q", eval.State, candidate.Blocked)
	}
	if !hasIssue(eval.BlockingIssues, IssueMissingField, candidate.IssueBlocksPublishing) {
		t.Error("expected a blocking missing_field issue")
	}
	if eval.RecommendedAction == nil || eval.RecommendedAction.Action != candidate.ActionAddEvidence {
		t.Errorf("RecommendedAction = %+v, want add_evidence", eval.RecommendedAction)
	}
}

func TestEvaluateAwaitingVerification(t *testing.T) {
	c := completeCandidate()

	eval := newTestEvaluator().Evaluate(c)

	if eval.State != candidate.ReadyInReview {
		t.Errorf("State = %q, want %q", eval.State, candidate.ReadyInReview)
	}
	if eval.Explanation != "minimum fields present, awaiting verification" {
		t.Errorf("Explanation = %q", eval.Explanation)
	}
	if eval.RecommendedAction == nil || eval.RecommendedAction.Action != candidate.ActionAssignVerification {
		t.Errorf("RecommendedAction = %+v, want assign_verification", eval.RecommendedAction)
	}
}

func TestEvaluateHighStakesUnverifiedBlocks(t *testing.T) {
	c := completeCandidate()
	c.RiskTier = candidate.TierHighStakes

	eval := newTestEvaluator().Evaluate(c)

	if eval.State != candidate.Blocked {
		t.Errorf("State = %q, want %q", eval.State, candidate.Blocked)
	}
	if !hasIssue(eval.BlockingIssues, IssueVerificationRequired, candidate.IssueBlocksPublishing) {
		t.Error("expected a blocking verification_required issue")
	}
	if eval.RecommendedAction == nil || eval.RecommendedAction.Action != candidate.ActionAssignVerification {
		t.Errorf("RecommendedAction = %+v, want assign_verification", eval.RecommendedAction)
	}
}

func TestEvaluateUnresolvedConflictBlocks(t *testing.T) {
	c := completeCandidate()
	c.Verifications = []candidate.Verification{{VerifiedBy: "verifier-1"}}
	c.Conflicts = []candidate.Conflict{{
		ID:       "conf-1",
		Field:    candidate.FieldWhere,
		Severity: candidate.SeverityHigh,
	}}

	eval := newTestEvaluator().Evaluate(c)

	if eval.State != candidate.Blocked {
		t.Errorf("State = %q, want %q", eval.State, candidate.Blocked)
	}
	if eval.RecommendedAction == nil || eval.RecommendedAction.Action != candidate.ActionResolveConflict {
		t.Errorf("RecommendedAction = %+v, want resolve_conflict", eval.RecommendedAction)
	}

	// Resolving the conflict unblocks.
	c.Conflicts[0].Resolved = true
	eval = newTestEvaluator().Evaluate(c)
	if eval.State != candidate.ReadyVerified {
		t.Errorf("State after resolution = %q, want %q", eval.State, candidate.ReadyVerified)
	}
}

func TestEvaluateConflictSeverityThreshold(t *testing.T) {
	c := completeCandidate()
	c.Verifications = []candidate.Verification{{VerifiedBy: "verifier-1"}}
	c.Conflicts = []candidate.Conflict{{
		ID:       "conf-1",
		Field:    candidate.FieldWhere,
		Severity: candidate.SeverityMedium,
	}}

	// A medium conflict sits below the default high threshold: it keeps
	// the candidate publishable but still demands attention.
	eval := newTestEvaluator().Evaluate(c)
	if eval.State != candidate.ReadyVerified {
		t.Errorf("State = %q, want %q", eval.State, candidate.ReadyVerified)
	}
	if !hasIssue(eval.BlockingIssues, IssueUnresolvedConflict, candidate.IssueRequiresAttention) {
		t.Error("expected a requires_attention unresolved_conflict issue")
	}

	// Lowering the threshold to medium makes the same conflict block.
	cfg := DefaultConfig()
	cfg.BlockingConflictSeverity = candidate.SeverityMedium
	eval = NewEvaluator(cfg, nil, nil).Evaluate(c)
	if eval.State != candidate.Blocked {
		t.Errorf("State with medium threshold = %q, want %q", eval.State, candidate.Blocked)
	}
	if !hasIssue(eval.BlockingIssues, IssueUnresolvedConflict, candidate.IssueBlocksPublishing) {
		t.Error("expected a blocking unresolved_conflict issue")
	}
}

func TestAssessFieldStatuses(t *testing.T) {
	e := newTestEvaluator()

	tests := []struct {
		value string
		want  FieldStatus
	}{
		{"", StatusMissing},
		{"   ", StatusMissing},
		{"unknown", StatusPartial},
		{"TBD", StatusPartial},
		{"n/a", StatusPartial},
		{"?", StatusPartial},
		{"412", StatusPartial},
		{"412 Main St", StatusComplete},
	}
	for _, tt := range tests {
		if got := e.assessField(tt.value); got != tt.want {
			t.Errorf("assessField(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestEvaluatePartialFieldWarning(t *testing.T) {
	c := completeCandidate()
	c.Fields.Who = "tbd"

	eval := newTestEvaluator().Evaluate(c)

	if eval.State != candidate.ReadyInReview {
		t.Errorf("State = %q, want %q", eval.State, candidate.ReadyInReview)
	}
	if !hasIssue(eval.BlockingIssues, IssuePartialField, candidate.IssueWarning) {
		t.Error("expected a partial_field warning issue")
	}
}

type stubScorer struct {
	scores map[candidate.FieldKey]FieldStatus
	err    error
}

func (s *stubScorer) ScoreFields(ctx context.Context, c *candidate.Candidate) (map[candidate.FieldKey]FieldStatus, error) {
	return s.scores, s.err
}

func TestAnnotateRefinesFieldStatuses(t *testing.T) {
	c := completeCandidate()
	scorer := &stubScorer{scores: map[candidate.FieldKey]FieldStatus{
		candidate.FieldWho: StatusPartial,
	}}
	e := NewEvaluator(DefaultConfig(), scorer, nil)

	eval := e.Evaluate(c)
	if eval.Method != MethodRuleBased {
		t.Errorf("Evaluate Method = %q, want %q", eval.Method, MethodRuleBased)
	}

	annotated := e.Annotate(context.Background(), c, eval)
	if annotated.Method != MethodScored {
		t.Errorf("Annotate Method = %q, want %q", annotated.Method, MethodScored)
	}
	var who FieldStatus
	for _, fe := range annotated.FieldEvaluations {
		if fe.Field == candidate.FieldWho {
			who = fe.Status
		}
	}
	if who != StatusPartial {
		t.Errorf("scored %q status = %q, want %q", candidate.FieldWho, who, StatusPartial)
	}

	// Scores are advisory: the state decision stays rule-based.
	if annotated.State != eval.State {
		t.Errorf("State changed by annotation: %q -> %q", eval.State, annotated.State)
	}
}

func TestAnnotateScorerFailureFallsBack(t *testing.T) {
	c := completeCandidate()
	scorer := &stubScorer{err: errors.New("upstream unavailable")}
	e := NewEvaluator(DefaultConfig(), scorer, nil)

	eval := e.Annotate(context.Background(), c, e.Evaluate(c))

	if eval.Method != MethodRuleBased {
		t.Errorf("Method = %q, want %q", eval.Method, MethodRuleBased)
	}
	if eval.State != candidate.ReadyInReview {
		t.Errorf("State = %q, want %q", eval.State, candidate.ReadyInReview)
	}
}

func TestApply(t *testing.T) {
	c := completeCandidate()
	eval := newTestEvaluator().Evaluate(c)

	Apply(c, eval)

	if c.ReadinessState != eval.State {
		t.Errorf("ReadinessState = %q, want %q", c.ReadinessState, eval.State)
	}
	if !c.ReadinessUpdatedAt.Equal(eval.EvaluatedAt) {
		t.Error("ReadinessUpdatedAt not set from evaluation")
	}
	if c.RecommendedAction == nil {
		t.Error("RecommendedAction not applied")
	}
}

func hasIssue(issues []candidate.BlockingIssue, code string, severity candidate.IssueSeverity) bool {
	for _, issue := range issues {
		if issue.Code == code && issue.Severity == severity {
			return true
		}
	}
	return false
}
