package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ai4altruism/integritykit/internal/middleware"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

// UserHandlers holds dependencies for user administration HTTP handlers.
type UserHandlers struct {
	svc   *rbac.Service
	repo  rbac.Repository
	users ActorSource
}

// NewUserHandlers creates a new UserHandlers instance.
func NewUserHandlers(svc *rbac.Service, repo rbac.Repository) *UserHandlers {
	return &UserHandlers{svc: svc, repo: repo, users: repo}
}

// RoleChangeRequest is the request body for assigning or revoking a role.
type RoleChangeRequest struct {
	Role   string `json:"role"`
	Revoke bool   `json:"revoke,omitempty"`
	Reason string `json:"reason"`
}

// SuspendRequest is the request body for suspending or reinstating.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// UserResponse is the wire representation of a user.
type UserResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`

	Roles       []string `json:"roles"`
	IsSuspended bool     `json:"is_suspended"`

	Stats UserStatsResponse `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserStatsResponse is the per-user activity summary.
type UserStatsResponse struct {
	LastActionAt        *time.Time `json:"last_action_at,omitempty"`
	TotalActions        int        `json:"total_actions"`
	PublishCount        int        `json:"publish_count"`
	HighStakesOverrides int        `json:"high_stakes_overrides"`
}

func toUserResponse(u *rbac.User) *UserResponse {
	return &UserResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Roles:       u.RoleNames(),
		IsSuspended: u.IsSuspended,
		Stats: UserStatsResponse{
			LastActionAt:        u.Stats.LastActionAt,
			TotalActions:        u.Stats.TotalActions,
			PublishCount:        u.Stats.PublishCount,
			HighStakesOverrides: u.Stats.HighStakesOverrides,
		},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Get handles GET /users/{id}.
func (h *UserHandlers) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}
	if err := h.svc.RequirePermission(actor, rbac.PermViewUsers); err != nil {
		writeServiceError(w, r, err)
		return
	}

	user, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUserResponse(user))
}

// List handles GET /users.
func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}
	if err := h.svc.RequirePermission(actor, rbac.PermViewUsers); err != nil {
		writeServiceError(w, r, err)
		return
	}

	users, err := h.repo.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]*UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"users": out})
}

// ChangeRole handles POST /users/{id}/roles.
func (h *UserHandlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req RoleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	targetID := r.PathValue("id")
	var (
		user *rbac.User
		err  error
	)
	if req.Revoke {
		user, err = h.svc.RevokeRole(r.Context(), actor, targetID, rbac.Role(req.Role), req.Reason)
	} else {
		user, err = h.svc.AssignRole(r.Context(), actor, targetID, rbac.Role(req.Role), req.Reason)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUserResponse(user))
}

// Suspend handles POST /users/{id}/suspend.
func (h *UserHandlers) Suspend(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	user, err := h.svc.Suspend(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUserResponse(user))
}

// Reinstate handles POST /users/{id}/reinstate.
func (h *UserHandlers) Reinstate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	user, err := h.svc.Reinstate(r.Context(), actor, r.PathValue("id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toUserResponse(user))
}
