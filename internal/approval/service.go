package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

var (
	// ErrSelfApproval is returned when a requester tries to decide
	// their own approval. The two-person rule admits no exceptions.
	ErrSelfApproval = errors.New("requester cannot approve their own request")

	// ErrExpired is returned when deciding an approval past its
	// deadline.
	ErrExpired = errors.New("approval expired")

	// ErrJustificationRequired is returned when a decision carries no
	// written rationale.
	ErrJustificationRequired = errors.New("decision justification required")

	// ErrNotRequester is returned when someone other than the
	// requester cancels an approval.
	ErrNotRequester = errors.New("only the requester can cancel an approval")
)

// DefaultTTL is how long an approval stays decidable.
const DefaultTTL = 30 * time.Minute

// SystemActorID marks audit entries written by the service itself.
const SystemActorID = "system"

// cancelJustification is recorded when a requester withdraws their own
// request.
const cancelJustification = "request cancelled by requester"

// AuditLog records approval lifecycle events. Satisfied by
// *audit.Service.
type AuditLog interface {
	Log(ctx context.Context, rec audit.Record) (*audit.Entry, error)
}

// Event kinds delivered to a Notifier.
const (
	EventRequested = "requested"
	EventGranted   = "granted"
	EventDenied    = "denied"
	EventExpired   = "expired"
)

// Event describes an approval transition for operator notification.
type Event struct {
	Kind        string
	ApprovalID  string
	CandidateID string
	ActorID     string
	At          time.Time
}

// Notifier delivers approval events to operators. Implementations must
// return quickly; a delivery failure never affects the transition.
// Satisfied by *notify.SlackNotifier.
type Notifier interface {
	NotifyApproval(ctx context.Context, ev Event)
}

// Config tunes the approval service.
type Config struct {
	// TTL bounds how long a request stays pending. Zero means
	// DefaultTTL.
	TTL time.Duration

	// Notifier receives lifecycle events. Optional.
	Notifier Notifier

	Logger  *slog.Logger
	Metrics *Metrics
}

// Service implements the two-person approval workflow.
type Service struct {
	repo     Repository
	trail    AuditLog
	notifier Notifier
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	timeNow  func() time.Time
}

// NewService returns an approval service. repo and trail must not be
// nil.
func NewService(repo Repository, trail AuditLog, cfg Config) (*Service, error) {
	if repo == nil {
		return nil, errors.New("approval: repository is required")
	}
	if trail == nil {
		return nil, errors.New("approval: audit log is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		trail:    trail,
		notifier: cfg.Notifier,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		timeNow:  time.Now,
	}, nil
}

// Request opens a pending approval for a candidate. At most one pending
// approval exists per candidate; an expired pending request is swept
// aside first.
func (s *Service) Request(ctx context.Context, actor *rbac.User, candidateID, reason string) (*Approval, error) {
	if err := requirePublish(actor); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()

	// A stale pending request should not wedge the candidate.
	if existing, err := s.repo.PendingForCandidate(ctx, candidateID); err == nil && existing.ExpiredBy(now) {
		if expireErr := s.expireOne(ctx, existing, now); expireErr != nil {
			return nil, expireErr
		}
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created, err := s.repo.Create(ctx, &Approval{
		CandidateID: candidateID,
		RequestedBy: actor.ID,
		Reason:      strings.TrimSpace(reason),
		RequestedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     audit.ActionApprovalRequested,
		TargetType: audit.TargetApproval,
		TargetID:   created.ID,
		After: map[string]any{
			"candidate_id": candidateID,
			"status":       string(StatusPending),
			"expires_at":   created.ExpiresAt.Format(time.RFC3339),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to audit approval request: %w", err)
	}

	s.logger.Info("approval requested",
		"approval_id", created.ID,
		"candidate_id", candidateID,
		"requested_by", actor.ID)
	if s.metrics != nil {
		s.metrics.IncRequests()
	}
	s.notify(ctx, EventRequested, created, actor.ID, now)
	return created, nil
}

// GrantedForCandidate reports the granted, unconsumed, unexpired
// approval for a candidate, if one exists. The publish gate consults it
// when deciding high-stakes content.
func (s *Service) GrantedForCandidate(ctx context.Context, candidateID string) (string, bool, error) {
	list, err := s.repo.ListByCandidate(ctx, candidateID)
	if err != nil {
		return "", false, err
	}
	now := s.timeNow().UTC()
	for _, a := range list {
		if a.Status == StatusGranted && !a.Consumed() && now.Before(a.ExpiresAt) {
			return a.ID, true, nil
		}
	}
	return "", false, nil
}

// ListForCandidate returns a candidate's approval history, newest first.
func (s *Service) ListForCandidate(ctx context.Context, actor *rbac.User, candidateID string) ([]*Approval, error) {
	if err := requirePublish(actor); err != nil {
		return nil, err
	}
	return s.repo.ListByCandidate(ctx, candidateID)
}

// Decide grants or denies a pending approval. The decider must differ
// from the requester and must supply a written justification.
func (s *Service) Decide(ctx context.Context, actor *rbac.User, approvalID string, grant bool, justification string) (*Approval, error) {
	if err := requirePublish(actor); err != nil {
		return nil, err
	}

	a, err := s.repo.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	// The self-approval check comes first: it fails regardless of the
	// approval's state.
	if a.RequestedBy == actor.ID {
		return nil, ErrSelfApproval
	}

	justification = strings.TrimSpace(justification)
	if justification == "" {
		return nil, ErrJustificationRequired
	}

	now := s.timeNow().UTC()
	if a.ExpiredBy(now) {
		if err := s.expireOne(ctx, a, now); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	to := StatusDenied
	action := audit.ActionApprovalDenied
	if grant {
		to = StatusGranted
		action = audit.ActionApprovalGranted
	}

	resolved, err := s.repo.Resolve(ctx, approvalID, to, actor.ID, justification, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        action,
		TargetType:    audit.TargetApproval,
		TargetID:      resolved.ID,
		Before:        map[string]any{"status": string(StatusPending)},
		After:         map[string]any{"status": string(to), "candidate_id": resolved.CandidateID},
		Justification: justification,
	}); err != nil {
		return nil, fmt.Errorf("failed to audit approval decision: %w", err)
	}

	s.logger.Info("approval decided",
		"approval_id", resolved.ID,
		"candidate_id", resolved.CandidateID,
		"status", string(to),
		"decided_by", actor.ID)
	if s.metrics != nil {
		s.metrics.IncDecisions(to)
	}
	kind := EventDenied
	if grant {
		kind = EventGranted
	}
	s.notify(ctx, kind, resolved, actor.ID, now)
	return resolved, nil
}

// Cancel withdraws the requester's own pending approval. The approval
// ends denied with a system-supplied justification.
func (s *Service) Cancel(ctx context.Context, actor *rbac.User, approvalID string) (*Approval, error) {
	a, err := s.repo.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if a.RequestedBy != actor.ID {
		return nil, ErrNotRequester
	}

	now := s.timeNow().UTC()
	resolved, err := s.repo.Resolve(ctx, approvalID, StatusDenied, actor.ID, cancelJustification, now)
	if err != nil {
		return nil, err
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        audit.ActionApprovalDenied,
		TargetType:    audit.TargetApproval,
		TargetID:      resolved.ID,
		Before:        map[string]any{"status": string(StatusPending)},
		After:         map[string]any{"status": string(StatusDenied), "candidate_id": resolved.CandidateID},
		Justification: cancelJustification,
	}); err != nil {
		return nil, fmt.Errorf("failed to audit approval cancellation: %w", err)
	}

	s.logger.Info("approval cancelled",
		"approval_id", resolved.ID,
		"candidate_id", resolved.CandidateID,
		"requested_by", actor.ID)
	if s.metrics != nil {
		s.metrics.IncDecisions(StatusDenied)
	}
	s.notify(ctx, EventDenied, resolved, actor.ID, now)
	return resolved, nil
}

// Consume spends a granted approval on a publish. Each grant authorizes
// exactly one publish.
func (s *Service) Consume(ctx context.Context, actor *rbac.User, approvalID string) (*Approval, error) {
	consumed, err := s.repo.Consume(ctx, approvalID, actor.ID, s.timeNow().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     audit.ActionApprovalConsumed,
		TargetType: audit.TargetApproval,
		TargetID:   consumed.ID,
		After:      map[string]any{"candidate_id": consumed.CandidateID, "consumed_by": actor.ID},
	}); err != nil {
		return nil, fmt.Errorf("failed to audit approval consumption: %w", err)
	}

	s.logger.Info("approval consumed",
		"approval_id", consumed.ID,
		"candidate_id", consumed.CandidateID,
		"consumed_by", actor.ID)
	if s.metrics != nil {
		s.metrics.IncConsumed()
	}
	return consumed, nil
}

// ExpireDue sweeps pending approvals past their deadline and returns how
// many were expired. Safe to call concurrently with lazy expiry.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.timeNow().UTC()
	due, err := s.repo.ListExpiredPending(ctx, now, 0)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range due {
		if err := s.expireOne(ctx, a, now); err != nil {
			if errors.Is(err, ErrAlreadyResolved) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, a *Approval, now time.Time) error {
	if _, err := s.repo.Resolve(ctx, a.ID, StatusExpired, "", "", now); err != nil {
		return err
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:    SystemActorID,
		Action:     audit.ActionApprovalExpired,
		TargetType: audit.TargetApproval,
		TargetID:   a.ID,
		Before:     map[string]any{"status": string(StatusPending)},
		After:      map[string]any{"status": string(StatusExpired), "candidate_id": a.CandidateID},
	}); err != nil {
		return fmt.Errorf("failed to audit approval expiry: %w", err)
	}

	s.logger.Info("approval expired",
		"approval_id", a.ID,
		"candidate_id", a.CandidateID)
	if s.metrics != nil {
		s.metrics.IncExpired()
	}
	s.notify(ctx, EventExpired, a, SystemActorID, now)
	return nil
}

func (s *Service) notify(ctx context.Context, kind string, a *Approval, actorID string, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyApproval(ctx, Event{
		Kind:        kind,
		ApprovalID:  a.ID,
		CandidateID: a.CandidateID,
		ActorID:     actorID,
		At:          at,
	})
}

func requirePublish(actor *rbac.User) error {
	if actor.IsSuspended {
		return rbac.ErrUserSuspended
	}
	if !actor.HasPermission(rbac.PermPublish) {
		return rbac.ErrAccessDenied
	}
	return nil
}
