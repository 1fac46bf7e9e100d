package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrNilRepository is returned when the service is built without storage.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrUnknownAction is returned for actions outside the closed set.
	ErrUnknownAction = errors.New("unknown audit action")
	// ErrInvalidTarget is returned when the target reference is incomplete.
	ErrInvalidTarget = errors.New("audit target type and ID are required")
	// ErrInvalidActor is returned when the acting user is missing.
	ErrInvalidActor = errors.New("audit actor ID is required")
	// ErrJustificationRequired is returned when an override-class action
	// is recorded without a justification.
	ErrJustificationRequired = errors.New("justification is required for this action")
)

// Service validates and appends audit records. All sensitive operations in
// the system go through here so that a failed append fails the operation:
// nothing user-visible succeeds without its trail entry.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	metrics *Metrics
}

// NewService creates an audit service. The metrics parameter may be nil.
func NewService(repo Repository, logger *slog.Logger, metrics *Metrics) (*Service, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: metrics}, nil
}

// Log validates rec and appends it to the trail. When the append fails the
// caller must treat its own operation as failed.
func (s *Service) Log(ctx context.Context, rec Record) (*Entry, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}

	entry, err := s.repo.Append(ctx, rec)
	if err != nil {
		s.logger.Error("audit append failed",
			"action", string(rec.Action),
			"actor_id", rec.ActorID,
			"target_id", rec.TargetID,
			"error", err)
		if s.metrics != nil {
			s.metrics.IncAppendFailures()
		}
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncEntries(rec.Action)
		if rec.IsFlagged {
			s.metrics.IncFlagged()
		}
	}

	s.logger.Info("audit entry recorded",
		"entry_id", entry.ID,
		"action", string(entry.Action),
		"actor_id", entry.ActorID,
		"target_type", string(entry.TargetType),
		"target_id", entry.TargetID,
		"flagged", entry.IsFlagged)
	return entry, nil
}

// ByTarget returns the trail for one target, oldest first.
func (s *Service) ByTarget(ctx context.Context, targetType TargetType, targetID string, limit int) ([]*Entry, error) {
	return s.repo.QueryByTarget(ctx, targetType, targetID, limit)
}

// ByActor returns the trail for one actor, oldest first.
func (s *Service) ByActor(ctx context.Context, actorID string, limit int) ([]*Entry, error) {
	return s.repo.QueryByActor(ctx, actorID, limit)
}

// ByAction returns the trail for one action type, oldest first.
func (s *Service) ByAction(ctx context.Context, action ActionType, limit int) ([]*Entry, error) {
	return s.repo.QueryByAction(ctx, action, limit)
}

// Flagged returns abuse-flagged entries, oldest first.
func (s *Service) Flagged(ctx context.Context, limit int) ([]*Entry, error) {
	return s.repo.QueryFlagged(ctx, limit)
}

// Range returns entries within [from, to], oldest first. Zero times leave
// that side of the range open.
func (s *Service) Range(ctx context.Context, from, to time.Time, limit int) ([]*Entry, error) {
	return s.repo.QueryRange(ctx, from, to, limit)
}

// Export renders the trail in the requested format.
func (s *Service) Export(ctx context.Context, opts ExportOptions) ([]byte, error) {
	return Export(ctx, s.repo, opts)
}

// ChainStatus is the result of a hash-chain walk over the full trail.
type ChainStatus struct {
	Entries  int  `json:"entries"`
	Intact   bool `json:"intact"`
	BrokenAt int  `json:"broken_at"` // index of the first broken link, -1 when intact
}

// VerifyChain walks every PrevHash link in the trail and reports where,
// if anywhere, the chain is broken.
func (s *Service) VerifyChain(ctx context.Context) (*ChainStatus, error) {
	entries, err := s.repo.QueryRange(ctx, time.Time{}, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	status := &ChainStatus{Entries: len(entries), Intact: true, BrokenAt: -1}
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			status.Intact = false
			status.BrokenAt = i
			break
		}
		prev = hashEntry(e)
	}
	if !status.Intact {
		s.logger.Error("audit chain verification failed",
			"entries", status.Entries,
			"broken_at", status.BrokenAt)
	}
	return status, nil
}

func validate(rec Record) error {
	if rec.ActorID == "" {
		return ErrInvalidActor
	}
	if !validActions[rec.Action] {
		return fmt.Errorf("%w: %q", ErrUnknownAction, rec.Action)
	}
	if rec.TargetType == "" || rec.TargetID == "" {
		return ErrInvalidTarget
	}
	if justificationRequired[rec.Action] && strings.TrimSpace(rec.Justification) == "" {
		return fmt.Errorf("%w: %s", ErrJustificationRequired, rec.Action)
	}
	return nil
}
