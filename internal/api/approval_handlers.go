package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/approval"
	"github.com/ai4altruism/integritykit/internal/middleware"
)

// ApprovalHandlers holds dependencies for approval HTTP handlers.
type ApprovalHandlers struct {
	svc   *approval.Service
	users ActorSource
}

// NewApprovalHandlers creates a new ApprovalHandlers instance.
func NewApprovalHandlers(svc *approval.Service, users ActorSource) *ApprovalHandlers {
	return &ApprovalHandlers{svc: svc, users: users}
}

// RequestApprovalRequest is the request body for opening an approval.
type RequestApprovalRequest struct {
	CandidateID string `json:"candidate_id"`
	Reason      string `json:"reason"`
}

// DecideApprovalRequest is the request body for granting or denying.
type DecideApprovalRequest struct {
	Grant         bool   `json:"grant"`
	Justification string `json:"justification"`
}

// ApprovalResponse is the wire representation of an approval.
type ApprovalResponse struct {
	ID          string `json:"id"`
	CandidateID string `json:"candidate_id"`

	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`

	Status string `json:"status"`

	DecidedBy     string     `json:"decided_by,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	Justification string     `json:"justification,omitempty"`

	ConsumedBy string     `json:"consumed_by,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

func toApprovalResponse(a *approval.Approval) *ApprovalResponse {
	return &ApprovalResponse{
		ID:            a.ID,
		CandidateID:   a.CandidateID,
		RequestedBy:   a.RequestedBy,
		Reason:        a.Reason,
		RequestedAt:   a.RequestedAt,
		ExpiresAt:     a.ExpiresAt,
		Status:        string(a.Status),
		DecidedBy:     a.DecidedBy,
		DecidedAt:     a.DecidedAt,
		Justification: a.Justification,
		ConsumedBy:    a.ConsumedBy,
		ConsumedAt:    a.ConsumedAt,
	}
}

// List handles GET /approvals. Requires a candidate_id query parameter
// and returns that candidate's approval history, newest first.
func (h *ApprovalHandlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	candidateID := strings.TrimSpace(r.URL.Query().Get("candidate_id"))
	if candidateID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "candidate_id is required")
		return
	}

	approvals, err := h.svc.ListForCandidate(r.Context(), actor, candidateID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]*ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, toApprovalResponse(a))
	}
	writeJSON(w, r, http.StatusOK, out)
}

// Request handles POST /approvals.
func (h *ApprovalHandlers) Request(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req RequestApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "candidate_id is required")
		return
	}

	a, err := h.svc.Request(r.Context(), actor, req.CandidateID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toApprovalResponse(a))
}

// Decide handles POST /approvals/{id}/decide.
func (h *ApprovalHandlers) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req DecideApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	a, err := h.svc.Decide(r.Context(), actor, r.PathValue("id"), req.Grant, req.Justification)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toApprovalResponse(a))
}

// Cancel handles POST /approvals/{id}/cancel.
func (h *ApprovalHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	a, err := h.svc.Cancel(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toApprovalResponse(a))
}
