package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
)

var (
	// ErrAccessDenied is returned when a user lacks a required permission or role.
	ErrAccessDenied = errors.New("access denied")
	// ErrUserSuspended is returned when a suspended user attempts an action.
	ErrUserSuspended = errors.New("user account is suspended")
	// ErrInvalidRole is returned for invalid role operations.
	ErrInvalidRole = errors.New("invalid role operation")
	// ErrSelfSuspension is returned when an admin tries to suspend themselves.
	ErrSelfSuspension = errors.New("cannot suspend yourself")
	// ErrSuspendAdmin is returned when the target of a suspension is an admin.
	ErrSuspendAdmin = errors.New("cannot suspend another admin")
	// ErrAlreadySuspended is returned when suspending a suspended user.
	ErrAlreadySuspended = errors.New("user is already suspended")
	// ErrNotSuspended is returned when reinstating an active user.
	ErrNotSuspended = errors.New("user is not suspended")
	// ErrReasonRequired is returned when a suspension reason is too short.
	ErrReasonRequired = errors.New("suspension reason must be at least 10 characters")
)

// MinReasonLength is the required length for suspension reasons.
const MinReasonLength = 10

// AuditLog is the audit dependency of the service. Satisfied by
// audit.Service; narrowed so tests can substitute a recorder.
type AuditLog interface {
	Log(ctx context.Context, rec audit.Record) (*audit.Entry, error)
}

// Service enforces permissions and manages roles and suspensions. Role
// changes and suspensions are audited; the audit append is part of the
// operation and its failure fails the operation.
type Service struct {
	repo   Repository
	trail  AuditLog
	logger *slog.Logger
}

// NewService creates an RBAC service.
func NewService(repo Repository, trail AuditLog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, trail: trail, logger: logger}
}

// CheckPermission reports whether the user has the permission.
// Returns ErrUserSuspended for suspended users regardless of roles.
func (s *Service) CheckPermission(user *User, perm Permission) (bool, error) {
	if user.IsSuspended {
		return false, ErrUserSuspended
	}
	return user.HasPermission(perm), nil
}

// RequirePermission returns an error unless the user has the permission.
func (s *Service) RequirePermission(user *User, perm Permission) error {
	if user.IsSuspended {
		return ErrUserSuspended
	}
	if !user.HasPermission(perm) {
		return fmt.Errorf("%w: permission %s required", ErrAccessDenied, perm)
	}
	return nil
}

// RequireRole returns an error unless the user holds the role.
func (s *Service) RequireRole(user *User, role Role) error {
	if user.IsSuspended {
		return ErrUserSuspended
	}
	if !user.HasRole(role) {
		return fmt.Errorf("%w: role %s required", ErrAccessDenied, role)
	}
	return nil
}

// RequireAnyRole returns an error unless the user holds at least one of roles.
func (s *Service) RequireAnyRole(user *User, roles ...Role) error {
	if user.IsSuspended {
		return ErrUserSuspended
	}
	for _, r := range roles {
		if user.HasRole(r) {
			return nil
		}
	}
	return fmt.Errorf("%w: one of roles %v required", ErrAccessDenied, roles)
}

// AssignRole grants a role to a user and records the change.
func (s *Service) AssignRole(ctx context.Context, actor *User, targetID string, role Role, reason string) (*User, error) {
	if err := s.RequirePermission(actor, PermManageRoles); err != nil {
		return nil, err
	}
	if !ValidRoles[role] {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRole, role)
	}

	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.HasRole(role) {
		return nil, fmt.Errorf("%w: user already has role %s", ErrInvalidRole, role)
	}

	oldRoles := append([]Role(nil), target.Roles...)
	target.Roles = append(target.Roles, role)
	target.RoleHistory = append(target.RoleHistory, RoleChange{
		ChangedAt: time.Now().UTC(),
		ChangedBy: actor.ID,
		OldRoles:  oldRoles,
		NewRoles:  append([]Role(nil), target.Roles...),
		Reason:    reason,
	})

	return s.applyRoleChange(ctx, actor, target, oldRoles, reason)
}

// RevokeRole removes a role from a user and records the change. The base
// role cannot be revoked.
func (s *Service) RevokeRole(ctx context.Context, actor *User, targetID string, role Role, reason string) (*User, error) {
	if err := s.RequirePermission(actor, PermManageRoles); err != nil {
		return nil, err
	}
	if role == RoleGeneralParticipant {
		return nil, fmt.Errorf("%w: cannot revoke base role", ErrInvalidRole)
	}

	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.HasRole(role) {
		return nil, fmt.Errorf("%w: user does not have role %s", ErrInvalidRole, role)
	}

	oldRoles := append([]Role(nil), target.Roles...)
	kept := target.Roles[:0]
	for _, r := range target.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	target.Roles = kept
	target.RoleHistory = append(target.RoleHistory, RoleChange{
		ChangedAt: time.Now().UTC(),
		ChangedBy: actor.ID,
		OldRoles:  oldRoles,
		NewRoles:  append([]Role(nil), target.Roles...),
		Reason:    reason,
	})

	return s.applyRoleChange(ctx, actor, target, oldRoles, reason)
}

func (s *Service) applyRoleChange(ctx context.Context, actor, target *User, oldRoles []Role, reason string) (*User, error) {
	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        audit.ActionUserRoleChange,
		TargetType:    audit.TargetUser,
		TargetID:      target.ID,
		Before:        map[string]any{"roles": roleStrings(oldRoles)},
		After:         map[string]any{"roles": roleStrings(target.Roles)},
		Justification: reason,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("user roles changed",
		"actor_id", actor.ID,
		"target_id", target.ID,
		"roles", roleStrings(target.Roles))
	return updated, nil
}

// Suspend suspends a user's permissions. Self-suspension and suspension
// of another admin are rejected. Requires a substantive reason.
func (s *Service) Suspend(ctx context.Context, actor *User, targetID, reason string) (*User, error) {
	if err := s.RequirePermission(actor, PermSuspendUser); err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(reason)) < MinReasonLength {
		return nil, ErrReasonRequired
	}
	if actor.ID == targetID {
		return nil, ErrSelfSuspension
	}

	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.HasRole(RoleWorkspaceAdmin) {
		return nil, ErrSuspendAdmin
	}
	if target.IsSuspended {
		return nil, ErrAlreadySuspended
	}

	target.IsSuspended = true
	target.SuspensionHistory = append(target.SuspensionHistory, SuspensionRecord{
		SuspendedAt: time.Now().UTC(),
		SuspendedBy: actor.ID,
		Reason:      reason,
	})

	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     audit.ActionUserSuspend,
		TargetType: audit.TargetUser,
		TargetID:   target.ID,
		Before: map[string]any{
			"is_suspended": false,
			"roles":        roleStrings(target.Roles),
		},
		After: map[string]any{
			"is_suspended": true,
			"roles":        roleStrings(target.Roles), // Roles preserved but inactive
		},
		Justification: reason,
	}); err != nil {
		return nil, err
	}

	s.logger.Warn("user suspended",
		"actor_id", actor.ID,
		"target_id", target.ID,
		"reason", reason)
	return updated, nil
}

// Reinstate restores a suspended user's permissions.
func (s *Service) Reinstate(ctx context.Context, actor *User, targetID, reason string) (*User, error) {
	if err := s.RequirePermission(actor, PermSuspendUser); err != nil {
		return nil, err
	}

	target, err := s.repo.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if !target.IsSuspended {
		return nil, ErrNotSuspended
	}

	// Close the open suspension record.
	var suspensionReason string
	now := time.Now().UTC()
	for i := len(target.SuspensionHistory) - 1; i >= 0; i-- {
		rec := &target.SuspensionHistory[i]
		if rec.ReinstatedAt == nil {
			rec.ReinstatedAt = &now
			rec.ReinstatedBy = actor.ID
			rec.ReinstateReason = reason
			suspensionReason = rec.Reason
			break
		}
	}
	target.IsSuspended = false

	updated, err := s.repo.Update(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if _, err := s.trail.Log(ctx, audit.Record{
		ActorID:    actor.ID,
		ActorRoles: actor.RoleNames(),
		Action:     audit.ActionUserReinstate,
		TargetType: audit.TargetUser,
		TargetID:   target.ID,
		Before: map[string]any{
			"is_suspended":      true,
			"suspension_reason": suspensionReason,
		},
		After: map[string]any{
			"is_suspended": false,
			"roles":        roleStrings(target.Roles),
		},
		Justification: reason,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("user reinstated",
		"actor_id", actor.ID,
		"target_id", target.ID)
	return updated, nil
}

// RecordAction updates a user's activity stats after a sensitive action.
func (s *Service) RecordAction(ctx context.Context, userID string) error {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user.Stats.LastActionAt = &now
	user.Stats.TotalActions++
	_, err = s.repo.Update(ctx, user)
	return err
}

// RecordPublish updates activity stats after a publish.
func (s *Service) RecordPublish(ctx context.Context, userID string) error {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user.Stats.LastActionAt = &now
	user.Stats.TotalActions++
	user.Stats.PublishCount++
	_, err = s.repo.Update(ctx, user)
	return err
}

// RecordOverride updates activity stats after a high-stakes override.
func (s *Service) RecordOverride(ctx context.Context, userID string) error {
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	user.Stats.LastActionAt = &now
	user.Stats.TotalActions++
	user.Stats.HighStakesOverrides++
	_, err = s.repo.Update(ctx, user)
	return err
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
