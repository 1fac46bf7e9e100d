package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

// DenyCode is a machine-checkable reason a publish was refused.
type DenyCode string

const (
	DenyHighStakesUnverified DenyCode = "high_stakes_unverified"
	DenyReadinessBlocked     DenyCode = "readiness_blocked"
	DenyUnresolvedConflict   DenyCode = "unresolved_conflict"
)

// MinGateOverrideJustification is the minimum trimmed length of a
// high-stakes gate override rationale. Stricter than tier overrides.
const MinGateOverrideJustification = 20

// UnconfirmedPrefix marks content published under a gate override.
const UnconfirmedPrefix = "UNCONFIRMED: "

// ErrOverrideNotApplicable is returned when a gate override is requested
// for a candidate the gate would not block on verification grounds.
var ErrOverrideNotApplicable = errors.New("gate override not applicable")

// Decision is the outcome of a publish gate check.
type Decision struct {
	Allowed bool
	// Code is set on denial.
	Code   DenyCode
	Reason string
	// RequiresOverride marks denials a facilitator may override.
	RequiresOverride bool
	// ApprovalID names the granted two-person approval that authorized
	// an otherwise-denied pass. The caller spends it on publish.
	ApprovalID string
	Warnings   []string
}

// GateOverride records an explicit authorization to publish high-stakes
// unverified content. Published text gets the UNCONFIRMED label.
type GateOverride struct {
	CandidateID   string
	Justification string
	OverriddenBy  string
	OverriddenAt  time.Time
}

// ApprovalCheck reports whether a granted, unconsumed, unexpired
// two-person approval exists for a candidate. Satisfied by
// *approval.Service.
type ApprovalCheck interface {
	GrantedForCandidate(ctx context.Context, candidateID string) (string, bool, error)
}

// GateConfig tunes the publish gate.
type GateConfig struct {
	// BlockingConflictSeverity is the minimum open conflict severity
	// that denies publishing. Zero means high.
	BlockingConflictSeverity candidate.ConflictSeverity

	// Approvals, when set, lets a granted two-person approval pass
	// high-stakes unverified content.
	Approvals ApprovalCheck

	Logger  *slog.Logger
	Metrics *Metrics
}

// Gate enforces the publish gate. Every denial, and every allow of
// high-stakes content, is written to the audit log.
type Gate struct {
	trail             AuditLog
	approvals         ApprovalCheck
	conflictThreshold candidate.ConflictSeverity
	logger            *slog.Logger
	metrics           *Metrics
	timeNow           func() time.Time
}

// NewGate returns a gate. trail must not be nil.
func NewGate(trail AuditLog, cfg GateConfig) (*Gate, error) {
	if trail == nil {
		return nil, errors.New("risk: audit log is required")
	}
	if cfg.BlockingConflictSeverity == "" {
		cfg.BlockingConflictSeverity = candidate.SeverityHigh
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		trail:             trail,
		approvals:         cfg.Approvals,
		conflictThreshold: cfg.BlockingConflictSeverity,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
		timeNow:           time.Now,
	}, nil
}

// Check evaluates whether c may be published now. The decision is based
// on the candidate's effective tier and current readiness state.
func (g *Gate) Check(ctx context.Context, actor *rbac.User, c *candidate.Candidate) (Decision, error) {
	decision := g.decide(c)

	// A granted two-person approval passes high-stakes unverified
	// content without a manual override. The approval is not spent
	// here; publishing consumes it.
	if !decision.Allowed && decision.Code == DenyHighStakesUnverified && g.approvals != nil {
		id, ok, err := g.approvals.GrantedForCandidate(ctx, c.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to consult approvals: %w", err)
		}
		if ok {
			decision = Decision{
				Allowed:    true,
				ApprovalID: id,
				Warnings:   []string{"high-stakes content authorized by two-person approval"},
			}
		}
	}

	tier := c.EffectiveTier()
	audited := !decision.Allowed || tier == candidate.TierHighStakes
	if audited {
		if err := g.auditDecision(ctx, actor, c, decision); err != nil {
			return Decision{}, err
		}
	}

	if g.metrics != nil {
		g.metrics.IncGateDecisions(decision.Allowed, decision.Code)
	}
	if !decision.Allowed {
		g.logger.Warn("publish gate denied",
			"candidate_id", c.ID,
			"actor_id", actor.ID,
			"code", string(decision.Code))
	}
	return decision, nil
}

func (g *Gate) decide(c *candidate.Candidate) Decision {
	// The verification requirement outranks every other deny reason so
	// callers always see the override and approval paths on high-stakes
	// content, even when the candidate is also blocked or conflicted.
	if c.EffectiveTier() == candidate.TierHighStakes && c.ReadinessState != candidate.ReadyVerified {
		return Decision{
			Code: DenyHighStakesUnverified,
			Reason: "high-stakes content requires verified status, a granted approval, " +
				"or an explicit override; override adds an UNCONFIRMED label to published content",
			RequiresOverride: true,
			Warnings: []string{
				"high stakes: this content involves life-safety information",
				"verification is required before publishing",
				"override available with written justification",
			},
		}
	}

	if c.UnresolvedConflictAtLeast(g.conflictThreshold) {
		return Decision{
			Code:   DenyUnresolvedConflict,
			Reason: "candidate has unresolved conflicts that must be resolved before publishing",
		}
	}
	if c.ReadinessState == candidate.Blocked {
		return Decision{
			Code:   DenyReadinessBlocked,
			Reason: "candidate readiness is blocked",
		}
	}

	switch c.EffectiveTier() {
	case candidate.TierElevated:
		return Decision{
			Allowed:  true,
			Warnings: []string{"elevated risk content, extra review recommended"},
		}
	case candidate.TierHighStakes:
		// Unverified high stakes was denied above.
		return Decision{
			Allowed:  true,
			Warnings: []string{"high-stakes content, verification confirmed"},
		}
	default:
		// Routine. A candidate that was never classified carries no
		// risk signals and classifies routine, so the zero tier grades
		// the same way.
		return Decision{Allowed: true}
	}
}

// ApplyOverride authorizes publishing high-stakes unverified content.
// Only valid when the gate's denial is override-eligible; the override is
// audited and the published text must carry the UNCONFIRMED label.
func (g *Gate) ApplyOverride(ctx context.Context, actor *rbac.User, c *candidate.Candidate, justification string) (*GateOverride, error) {
	decision := g.decide(c)
	if decision.Allowed || !decision.RequiresOverride {
		return nil, fmt.Errorf("%w: candidate %s", ErrOverrideNotApplicable, c.ID)
	}

	justification = strings.TrimSpace(justification)
	if len(justification) < MinGateOverrideJustification {
		return nil, fmt.Errorf("%w: need at least %d characters",
			ErrJustificationTooShort, MinGateOverrideJustification)
	}

	override := &GateOverride{
		CandidateID:   c.ID,
		Justification: justification,
		OverriddenBy:  actor.ID,
		OverriddenAt:  g.timeNow().UTC(),
	}

	if _, err := g.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        audit.ActionGateAllow,
		TargetType:    audit.TargetCandidate,
		TargetID:      c.ID,
		Before:        map[string]any{"publish_gate": "blocked"},
		After:         map[string]any{"publish_gate": "override_applied", "unconfirmed_label": true},
		Justification: justification,
	}); err != nil {
		return nil, fmt.Errorf("failed to audit gate override: %w", err)
	}

	g.logger.Warn("high-stakes publish gate overridden",
		"candidate_id", c.ID,
		"overridden_by", actor.ID)
	if g.metrics != nil {
		g.metrics.IncGateOverrides()
	}
	return override, nil
}

// ApplyUnconfirmedLabel prepends the UNCONFIRMED marker to text published
// under a gate override.
func ApplyUnconfirmedLabel(text string) string {
	return UnconfirmedPrefix + text
}

func (g *Gate) auditDecision(ctx context.Context, actor *rbac.User, c *candidate.Candidate, d Decision) error {
	action := audit.ActionGateAllow
	after := map[string]any{"decision": "allow"}
	if !d.Allowed {
		action = audit.ActionGateDeny
		after = map[string]any{"decision": "deny", "code": string(d.Code)}
	}

	_, err := g.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     action,
		TargetType: audit.TargetCandidate,
		TargetID:   c.ID,
		Before: map[string]any{
			"readiness_state": string(c.ReadinessState),
			"risk_tier":       string(c.EffectiveTier()),
		},
		After: after,
	})
	if err != nil {
		return fmt.Errorf("failed to audit gate decision: %w", err)
	}
	return nil
}
