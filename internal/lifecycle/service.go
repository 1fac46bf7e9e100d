// Package lifecycle orchestrates the candidate state machine: creation,
// field updates, verification, conflict resolution, tier overrides, and
// publication through the gate and the two-person rule. Every transition
// re-evaluates readiness, reclassifies risk, and lands in the audit log.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ai4altruism/integritykit/internal/abuse"
	"github.com/ai4altruism/integritykit/internal/approval"
	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/rbac"
	"github.com/ai4altruism/integritykit/internal/readiness"
	"github.com/ai4altruism/integritykit/internal/risk"
)

var (
	// ErrConflictNotFound is returned when resolving an unknown
	// conflict.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrAlreadyPublished is returned when publishing a published
	// candidate.
	ErrAlreadyPublished = errors.New("candidate already published")

	// ErrApprovalMismatch is returned when the supplied approval does
	// not belong to the candidate being published.
	ErrApprovalMismatch = errors.New("approval does not match candidate")
)

// GateDeniedError carries the gate's decision when a publish is refused.
type GateDeniedError struct {
	Decision risk.Decision
}

func (e *GateDeniedError) Error() string {
	return fmt.Sprintf("publish gate denied (%s): %s", e.Decision.Code, e.Decision.Reason)
}

// abuseActionGateOverride is the action type tracked for gate overrides.
const abuseActionGateOverride = "publish_gate_override"

// abuseActionTierOverride is the action type tracked for tier overrides.
const abuseActionTierOverride = "risk_tier_override"

// Service drives candidate state transitions.
type Service struct {
	repo       candidate.Repository
	locker     *candidate.Locker
	evaluator  *readiness.Evaluator
	classifier *risk.Classifier
	gate       *risk.Gate
	approvals  *approval.Service
	users      *rbac.Service
	detector   *abuse.Detector
	trail      AuditLog
	logger     *slog.Logger
	metrics    *Metrics
	timeNow    func() time.Time
}

// AuditLog records candidate transitions. Satisfied by *audit.Service.
type AuditLog interface {
	Log(ctx context.Context, rec audit.Record) (*audit.Entry, error)
}

// Deps bundles the collaborators the service needs. All fields are
// required except Detector.
type Deps struct {
	Repo       candidate.Repository
	Evaluator  *readiness.Evaluator
	Classifier *risk.Classifier
	Gate       *risk.Gate
	Approvals  *approval.Service
	Users      *rbac.Service
	Detector   *abuse.Detector
	Trail      AuditLog
	Logger     *slog.Logger
	Metrics    *Metrics
}

// NewService returns a lifecycle service.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("lifecycle: candidate repository is required")
	case deps.Evaluator == nil:
		return nil, errors.New("lifecycle: readiness evaluator is required")
	case deps.Classifier == nil:
		return nil, errors.New("lifecycle: risk classifier is required")
	case deps.Gate == nil:
		return nil, errors.New("lifecycle: publish gate is required")
	case deps.Approvals == nil:
		return nil, errors.New("lifecycle: approval service is required")
	case deps.Users == nil:
		return nil, errors.New("lifecycle: user service is required")
	case deps.Trail == nil:
		return nil, errors.New("lifecycle: audit log is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:       deps.Repo,
		locker:     candidate.NewLocker(),
		evaluator:  deps.Evaluator,
		classifier: deps.Classifier,
		gate:       deps.Gate,
		approvals:  deps.Approvals,
		users:      deps.Users,
		detector:   deps.Detector,
		trail:      deps.Trail,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		timeNow:    time.Now,
	}, nil
}

// CreateInput describes a new candidate.
type CreateInput struct {
	ClusterID string
	Fields    candidate.Fields
	Evidence  []candidate.Citation
}

// Create stores a new candidate, classified and evaluated.
func (s *Service) Create(ctx context.Context, actor *rbac.User, in CreateInput) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermUpdateCandidate); err != nil {
		return nil, err
	}

	c := &candidate.Candidate{
		ID:        uuid.New().String(),
		ClusterID: in.ClusterID,
		Fields:    in.Fields,
		Evidence:  in.Evidence,
		CreatedBy: actor.ID,
	}
	s.refresh(ctx, c)

	created, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := s.audit(ctx, actor, audit.ActionCandidateCreate, created.ID, nil, snapshot(created), ""); err != nil {
		return nil, err
	}
	s.metrics.IncCreated()
	s.logger.Info("candidate created",
		"candidate_id", created.ID,
		"cluster_id", created.ClusterID,
		"risk_tier", string(created.RiskTier),
		"readiness_state", string(created.ReadinessState))
	return created, nil
}

// Get returns a candidate.
func (s *Service) Get(ctx context.Context, actor *rbac.User, id string) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermViewCandidates); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// List returns candidates matching the filter.
func (s *Service) List(ctx context.Context, actor *rbac.User, f candidate.Filter) ([]*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermViewCandidates); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, f)
}

// UpdateInput carries field edits. Nil slices leave the current values.
type UpdateInput struct {
	Fields   candidate.Fields
	Evidence []candidate.Citation
}

// UpdateFields replaces a candidate's semantic content. The change drops
// any tier override, reclassifies, and re-evaluates readiness.
func (s *Service) UpdateFields(ctx context.Context, actor *rbac.User, id string, in UpdateInput) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermUpdateCandidate); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateUpdateState, "", func(c *candidate.Candidate) error {
		c.Fields = in.Fields
		if in.Evidence != nil {
			c.Evidence = in.Evidence
		}
		// Content changed: any prior override no longer speaks to it.
		c.TierOverride = nil
		s.refresh(ctx, c)
		return nil
	})
}

// AddEvidence appends citations and re-evaluates.
func (s *Service) AddEvidence(ctx context.Context, actor *rbac.User, id string, citations []candidate.Citation) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermUpdateCandidate); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateUpdateState, "", func(c *candidate.Candidate) error {
		c.Evidence = append(c.Evidence, citations...)
		s.refresh(ctx, c)
		return nil
	})
}

// VerifyInput describes a verification action.
type VerifyInput struct {
	Method     candidate.VerificationMethod
	Notes      string
	Confidence candidate.ConfidenceLevel
}

// Verify records a verification by actor and re-evaluates readiness.
func (s *Service) Verify(ctx context.Context, actor *rbac.User, id string, in VerifyInput) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermVerifyCandidate); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateVerify, "", func(c *candidate.Candidate) error {
		c.Verifications = append(c.Verifications, candidate.Verification{
			VerifiedBy: actor.ID,
			VerifiedAt: s.timeNow().UTC(),
			Method:     in.Method,
			Notes:      in.Notes,
			Confidence: in.Confidence,
		})
		s.refresh(ctx, c)
		return nil
	})
}

// RecordConflict attaches an unresolved conflict and re-evaluates.
func (s *Service) RecordConflict(ctx context.Context, actor *rbac.User, id string, conflict candidate.Conflict) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermUpdateCandidate); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateUpdateState, "", func(c *candidate.Candidate) error {
		if conflict.ID == "" {
			conflict.ID = uuid.New().String()
		}
		conflict.Resolved = false
		c.Conflicts = append(c.Conflicts, conflict)
		s.refresh(ctx, c)
		return nil
	})
}

// ResolveConflict closes a conflict with notes and re-evaluates.
func (s *Service) ResolveConflict(ctx context.Context, actor *rbac.User, id, conflictID, notes string) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermUpdateCandidate); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateUpdateState, "", func(c *candidate.Candidate) error {
		for i := range c.Conflicts {
			if c.Conflicts[i].ID == conflictID {
				c.Conflicts[i].Resolved = true
				c.Conflicts[i].ResolutionNotes = notes
				s.refresh(ctx, c)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	})
}

// OverrideTier records a facilitator override of the computed risk tier.
func (s *Service) OverrideTier(ctx context.Context, actor *rbac.User, id string, newTier candidate.RiskTier, justification string) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermOverrideGate); err != nil {
		return nil, err
	}

	release := s.locker.Lock(id)
	defer release()

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.classifier.OverrideTier(ctx, actor, c, newTier, justification); err != nil {
		return nil, err
	}

	// The effective tier changed, so readiness may have too.
	readiness.Apply(c, s.evaluator.Evaluate(c))

	// Update stores the next revision; pin the override to it so that
	// only a later content edit invalidates it.
	c.TierOverride.Revision = c.Revision + 1

	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		return nil, err
	}

	s.trackOverride(ctx, actor, abuseActionTierOverride, id)
	return updated, nil
}

// PublishInput describes a publish attempt.
type PublishInput struct {
	// ApprovalID names a granted two-person approval to consume.
	// Optional: when empty, the gate finds one itself if the candidate
	// needs it; gate-allowed candidates publish without any.
	ApprovalID string
	// GateOverrideJustification, when set, applies a high-stakes gate
	// override if the gate denies with an override-eligible code.
	GateOverrideJustification string
}

// Publish runs the gate and marks the candidate published, spending the
// two-person approval when one authorized the pass. A denial is returned
// as *GateDeniedError.
func (s *Service) Publish(ctx context.Context, actor *rbac.User, id string, in PublishInput) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermPublish); err != nil {
		return nil, err
	}

	release := s.locker.Lock(id)
	defer release()

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.PublishedAt != nil {
		return nil, ErrAlreadyPublished
	}

	decision, err := s.gate.Check(ctx, actor, c)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if !decision.RequiresOverride || in.GateOverrideJustification == "" {
			return nil, &GateDeniedError{Decision: decision}
		}
		if _, err := s.gate.ApplyOverride(ctx, actor, c, in.GateOverrideJustification); err != nil {
			return nil, err
		}
		c.Fields.What = risk.ApplyUnconfirmedLabel(c.Fields.What)
		s.trackOverride(ctx, actor, abuseActionGateOverride, id)
	}

	// The two-person rule: the approval that authorized a high-stakes
	// pass is spent on exactly this publish. An explicitly supplied
	// approval is spent too; an ordinary allow needs none.
	approvalID := in.ApprovalID
	if approvalID == "" {
		approvalID = decision.ApprovalID
	}
	var consumed *approval.Approval
	if approvalID != "" {
		a, err := s.approvals.Consume(ctx, actor, approvalID)
		if err != nil {
			return nil, err
		}
		if a.CandidateID != c.ID {
			return nil, ErrApprovalMismatch
		}
		consumed = a
	}

	now := s.timeNow().UTC()
	c.PublishedAt = &now
	c.PublishedBy = actor.ID

	before := snapshot(c)
	before["published"] = false
	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		return nil, err
	}

	after := snapshot(updated)
	after["published"] = true
	if consumed != nil {
		after["approval_id"] = consumed.ID
	}
	if err := s.audit(ctx, actor, audit.ActionCandidatePublish, updated.ID, before, after, ""); err != nil {
		return nil, err
	}
	s.metrics.IncPublished(string(updated.EffectiveTier()))
	if err := s.users.RecordPublish(ctx, actor.ID); err != nil {
		s.logger.Warn("failed to record publish stat", "user_id", actor.ID, "error", err)
	}

	s.logger.Info("candidate published",
		"candidate_id", updated.ID,
		"published_by", actor.ID,
		"risk_tier", string(updated.EffectiveTier()))
	return updated, nil
}

// CheckGate runs the publish gate without publishing. No approval is
// consumed and the candidate is not modified; the gate still audits
// denials and high-stakes allows.
func (s *Service) CheckGate(ctx context.Context, actor *rbac.User, id string) (risk.Decision, error) {
	if err := s.users.RequirePermission(actor, rbac.PermViewCandidates); err != nil {
		return risk.Decision{}, err
	}

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return risk.Decision{}, err
	}
	if c.PublishedAt != nil {
		return risk.Decision{}, ErrAlreadyPublished
	}
	return s.gate.Check(ctx, actor, c)
}

// Reevaluate recomputes classification and readiness without content
// changes, persisting the result.
func (s *Service) Reevaluate(ctx context.Context, actor *rbac.User, id string) (*candidate.Candidate, error) {
	if err := s.users.RequirePermission(actor, rbac.PermViewCandidates); err != nil {
		return nil, err
	}

	return s.transition(ctx, actor, id, audit.ActionCandidateUpdateState, "", func(c *candidate.Candidate) error {
		s.refresh(ctx, c)
		return nil
	})
}

// transition runs mutate on the candidate under its lock, persists, and
// audits the state change with before/after snapshots.
func (s *Service) transition(ctx context.Context, actor *rbac.User, id string, action audit.ActionType, justification string, mutate func(*candidate.Candidate) error) (*candidate.Candidate, error) {
	release := s.locker.Lock(id)
	defer release()

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := snapshot(c)

	if err := mutate(c); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, c)
	if err != nil {
		return nil, err
	}

	if err := s.audit(ctx, actor, action, updated.ID, before, snapshot(updated), justification); err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(action))
	return updated, nil
}

// refresh recomputes risk and readiness on c in place. Classification
// runs first so the evaluator sees the effective tier. Model-assisted
// field scoring is advisory and never moves the readiness state.
func (s *Service) refresh(ctx context.Context, c *candidate.Candidate) {
	classification := s.classifier.Classify(c)
	c.RiskTier = classification.ComputedTier
	eval := s.evaluator.Evaluate(c)
	eval = s.evaluator.Annotate(ctx, c, eval)
	readiness.Apply(c, eval)
}

func (s *Service) audit(ctx context.Context, actor *rbac.User, action audit.ActionType, targetID string, before, after map[string]any, justification string) error {
	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        action,
		TargetType:    audit.TargetCandidate,
		TargetID:      targetID,
		Before:        before,
		After:         after,
		Justification: justification,
	}); err != nil {
		return fmt.Errorf("failed to audit candidate transition: %w", err)
	}
	return nil
}

func (s *Service) trackOverride(ctx context.Context, actor *rbac.User, actionType, targetID string) {
	if err := s.users.RecordOverride(ctx, actor.ID); err != nil {
		s.logger.Warn("failed to record override stat", "user_id", actor.ID, "error", err)
	}
	if s.detector == nil {
		return
	}
	if _, err := s.detector.RecordOverride(ctx, actor, actionType, targetID); err != nil {
		s.logger.Error("abuse tracking failed", "user_id", actor.ID, "error", err)
	}
}

func snapshot(c *candidate.Candidate) map[string]any {
	return map[string]any{
		"readiness_state": string(c.ReadinessState),
		"risk_tier":       string(c.EffectiveTier()),
		"revision":        c.Revision,
	}
}
