// Package rbac provides role-based access control for the candidate
// lifecycle: role and permission definitions, enforcement helpers, and
// audited suspension of user permissions.
package rbac

import (
	"time"
)

// Role is an assignable user role.
type Role string

const (
	// RoleGeneralParticipant is the base role every user holds.
	RoleGeneralParticipant Role = "general_participant"
	// RoleVerifier can verify candidate information.
	RoleVerifier Role = "verifier"
	// RoleFacilitator manages candidates and publishes updates.
	RoleFacilitator Role = "facilitator"
	// RoleWorkspaceAdmin manages users and roles.
	RoleWorkspaceAdmin Role = "workspace_admin"
)

// ValidRoles is the closed set of assignable roles.
var ValidRoles = map[Role]bool{
	RoleGeneralParticipant: true,
	RoleVerifier:           true,
	RoleFacilitator:        true,
	RoleWorkspaceAdmin:     true,
}

// Permission is a capability that can be checked for authorization.
type Permission string

const (
	PermViewSignals Permission = "view_signals"

	PermViewBacklog Permission = "view_backlog"

	PermViewCandidates  Permission = "view_candidates"
	PermUpdateCandidate Permission = "update_candidate"
	PermVerifyCandidate Permission = "verify_candidate"

	PermViewDraft    Permission = "view_draft"
	PermEditDraft    Permission = "edit_draft"
	PermPublish      Permission = "publish"
	PermOverrideGate Permission = "override_publish_gate"

	PermViewMetrics  Permission = "view_metrics"
	PermViewAuditLog Permission = "view_audit_log"
	PermExportAudit  Permission = "export_audit_log"

	PermViewUsers   Permission = "view_users"
	PermManageRoles Permission = "manage_roles"
	PermSuspendUser Permission = "suspend_user"
)

// RolePermissions maps each role to the permissions it grants. A user's
// effective permissions are the union over their roles.
var RolePermissions = map[Role]map[Permission]bool{
	RoleGeneralParticipant: permSet(
		PermViewSignals,
	),
	RoleVerifier: permSet(
		PermViewSignals,
		PermViewBacklog,
		PermViewCandidates,
		PermVerifyCandidate,
		PermViewDraft,
		PermViewMetrics,
	),
	RoleFacilitator: permSet(
		PermViewSignals,
		PermViewBacklog,
		PermViewCandidates,
		PermUpdateCandidate,
		PermVerifyCandidate,
		PermViewDraft,
		PermEditDraft,
		PermPublish,
		PermOverrideGate,
		PermViewMetrics,
		PermViewAuditLog,
	),
	RoleWorkspaceAdmin: permSet(
		PermViewSignals,
		PermViewBacklog,
		PermViewCandidates,
		PermUpdateCandidate,
		PermVerifyCandidate,
		PermViewDraft,
		PermEditDraft,
		PermPublish,
		PermOverrideGate,
		PermViewMetrics,
		PermViewAuditLog,
		PermExportAudit,
		PermViewUsers,
		PermManageRoles,
		PermSuspendUser,
	),
}

func permSet(perms ...Permission) map[Permission]bool {
	set := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// RoleChange records a role assignment or revocation for the audit trail.
type RoleChange struct {
	ChangedAt time.Time
	ChangedBy string
	OldRoles  []Role
	NewRoles  []Role
	Reason    string
}

// SuspensionRecord records one suspension and its eventual reinstatement.
type SuspensionRecord struct {
	SuspendedAt     time.Time
	SuspendedBy     string
	Reason          string
	ReinstatedAt    *time.Time
	ReinstatedBy    string
	ReinstateReason string
}

// ActivityStats tracks per-user action counts for abuse detection.
type ActivityStats struct {
	LastActionAt        *time.Time
	TotalActions        int
	PublishCount        int
	HighStakesOverrides int
}

// User is a workspace member with assigned roles.
type User struct {
	ID          string
	DisplayName string
	Email       string

	Roles       []Role
	RoleHistory []RoleChange

	IsSuspended       bool
	SuspensionHistory []SuspensionRecord

	Stats ActivityStats

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRole reports whether the user holds a role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of the user's roles grant the
// permission. Suspended users hold no permissions.
func (u *User) HasPermission(perm Permission) bool {
	if u.IsSuspended {
		return false
	}
	for _, r := range u.Roles {
		if RolePermissions[r][perm] {
			return true
		}
	}
	return false
}

// Permissions returns the union of permissions over the user's roles.
// Suspended users get an empty set.
func (u *User) Permissions() []Permission {
	if u.IsSuspended {
		return nil
	}
	seen := make(map[Permission]bool)
	var perms []Permission
	for _, r := range u.Roles {
		for p := range RolePermissions[r] {
			if !seen[p] {
				seen[p] = true
				perms = append(perms, p)
			}
		}
	}
	return perms
}

// RoleNames returns the user's roles as strings, for audit snapshots.
func (u *User) RoleNames() []string {
	names := make([]string, len(u.Roles))
	for i, r := range u.Roles {
		names[i] = string(r)
	}
	return names
}

// IsAdmin reports whether the user is a workspace admin.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleWorkspaceAdmin)
}
