// Package api provides HTTP handlers for the IntegrityKit API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/lifecycle"
	"github.com/ai4altruism/integritykit/internal/middleware"
	"github.com/ai4altruism/integritykit/internal/validate"
)

// CandidateHandlers holds dependencies for candidate HTTP handlers.
type CandidateHandlers struct {
	svc   *lifecycle.Service
	users ActorSource
}

// NewCandidateHandlers creates a new CandidateHandlers instance.
func NewCandidateHandlers(svc *lifecycle.Service, users ActorSource) *CandidateHandlers {
	return &CandidateHandlers{svc: svc, users: users}
}

// CreateCandidateRequest is the request body for creating a candidate.
type CreateCandidateRequest struct {
	ClusterID string            `json:"cluster_id,omitempty"`
	Fields    FieldsPayload     `json:"fields"`
	Evidence  []CitationPayload `json:"evidence,omitempty"`
}

// UpdateCandidateRequest is the request body for replacing candidate content.
type UpdateCandidateRequest struct {
	Fields   FieldsPayload     `json:"fields"`
	Evidence []CitationPayload `json:"evidence,omitempty"`
}

// VerifyCandidateRequest is the request body for recording a verification.
type VerifyCandidateRequest struct {
	Method     string `json:"method"`
	Notes      string `json:"notes,omitempty"`
	Confidence string `json:"confidence"`
}

// AddEvidenceRequest is the request body for appending citations.
type AddEvidenceRequest struct {
	Citations []CitationPayload `json:"citations"`
}

// RecordConflictRequest is the request body for recording a conflict.
type RecordConflictRequest struct {
	Field       string `json:"field"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// ResolveConflictRequest is the request body for resolving a conflict.
type ResolveConflictRequest struct {
	Notes string `json:"notes"`
}

// OverrideTierRequest is the request body for a manual tier override.
type OverrideTierRequest struct {
	Tier          string `json:"tier"`
	Justification string `json:"justification"`
}

// PublishCandidateRequest is the request body for publishing.
type PublishCandidateRequest struct {
	ApprovalID                string `json:"approval_id"`
	GateOverrideJustification string `json:"gate_override_justification,omitempty"`
}

// Create handles POST /candidates.
func (h *CandidateHandlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req CreateCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c, err := h.svc.Create(r.Context(), actor, lifecycle.CreateInput{
		ClusterID: req.ClusterID,
		Fields:    req.Fields.toModel(),
		Evidence:  citationsToModel(req.Evidence),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, toCandidateResponse(c))
}

// Get handles GET /candidates/{id}.
func (h *CandidateHandlers) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	c, err := h.svc.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// List handles GET /candidates with optional filter query parameters.
func (h *CandidateHandlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := candidate.Filter{
		ClusterID:   q.Get("cluster_id"),
		Readiness:   candidate.ReadinessState(q.Get("readiness")),
		Tier:        candidate.RiskTier(q.Get("tier")),
		Unpublished: q.Get("unpublished") == "true",
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	cs, err := h.svc.List(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"candidates": toCandidateResponses(cs)})
}

// Update handles PATCH /candidates/{id}.
func (h *CandidateHandlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req UpdateCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c, err := h.svc.UpdateFields(r.Context(), actor, r.PathValue("id"), lifecycle.UpdateInput{
		Fields:   req.Fields.toModel(),
		Evidence: citationsToModel(req.Evidence),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// Verify handles POST /candidates/{id}/verify.
func (h *CandidateHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req VerifyCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if errMsg := validateVerification(req); errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, errMsg)
		return
	}

	c, err := h.svc.Verify(r.Context(), actor, r.PathValue("id"), lifecycle.VerifyInput{
		Method:     candidate.VerificationMethod(req.Method),
		Notes:      req.Notes,
		Confidence: candidate.ConfidenceLevel(req.Confidence),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// AddEvidence handles POST /candidates/{id}/evidence.
func (h *CandidateHandlers) AddEvidence(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req AddEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if len(req.Citations) == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "citations are required")
		return
	}
	for _, cite := range req.Citations {
		if strings.TrimSpace(cite.URL) == "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "citation url is required")
			return
		}
		if _, err := validate.CitationURL(cite.URL); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "citation url is invalid: "+err.Error())
			return
		}
	}

	c, err := h.svc.AddEvidence(r.Context(), actor, r.PathValue("id"), citationsToModel(req.Citations))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// RecordConflict handles POST /candidates/{id}/conflicts.
func (h *CandidateHandlers) RecordConflict(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req RecordConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "conflict description is required")
		return
	}
	if errMsg := validateConflictSeverity(req.Severity); errMsg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, errMsg)
		return
	}

	c, err := h.svc.RecordConflict(r.Context(), actor, r.PathValue("id"), candidate.Conflict{
		Field:       candidate.FieldKey(req.Field),
		Description: req.Description,
		Severity:    candidate.ConflictSeverity(req.Severity),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// ResolveConflict handles POST /candidates/{id}/conflicts/{conflict_id}/resolve.
func (h *CandidateHandlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c, err := h.svc.ResolveConflict(r.Context(), actor, r.PathValue("id"), r.PathValue("conflict_id"), req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// OverrideTier handles POST /candidates/{id}/tier.
func (h *CandidateHandlers) OverrideTier(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	var req OverrideTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c, err := h.svc.OverrideTier(r.Context(), actor, r.PathValue("id"),
		candidate.RiskTier(req.Tier), req.Justification)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// GateDecisionResponse is the wire representation of a gate decision.
type GateDecisionResponse struct {
	Allowed          bool     `json:"allowed"`
	Code             string   `json:"code,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	RequiresOverride bool     `json:"requires_override,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// CheckGate handles POST /candidates/{id}/gate. The decision comes back
// as data whether the gate allows or denies; only lookup and permission
// failures are errors.
func (h *CandidateHandlers) CheckGate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	d, err := h.svc.CheckGate(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, &GateDecisionResponse{
		Allowed:          d.Allowed,
		Code:             string(d.Code),
		Reason:           d.Reason,
		RequiresOverride: d.RequiresOverride,
		Warnings:         d.Warnings,
	})
}

// Publish handles POST /candidates/{id}/publish.
func (h *CandidateHandlers) Publish(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	// The body is optional: a gate-allowed candidate publishes without
	// an approval, and the gate finds a granted approval on its own.
	var req PublishCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c, err := h.svc.Publish(r.Context(), actor, r.PathValue("id"), lifecycle.PublishInput{
		ApprovalID:                strings.TrimSpace(req.ApprovalID),
		GateOverrideJustification: req.GateOverrideJustification,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// Reevaluate handles POST /candidates/{id}/reevaluate.
func (h *CandidateHandlers) Reevaluate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}

	c, err := h.svc.Reevaluate(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toCandidateResponse(c))
}

// validateVerification checks a verification request body.
// Returns an error message, empty when valid.
func validateVerification(req VerifyCandidateRequest) string {
	switch candidate.VerificationMethod(req.Method) {
	case candidate.VerifyAuthoritativeSource,
		candidate.VerifyMultipleIndependent,
		candidate.VerifyDirectObservation,
		candidate.VerifyExpertConfirmation:
	default:
		return "method must be one of 'authoritative_source', 'multiple_independent', 'direct_observation', 'expert_confirmation'"
	}
	switch candidate.ConfidenceLevel(req.Confidence) {
	case candidate.ConfidenceLow, candidate.ConfidenceMedium, candidate.ConfidenceHigh:
	default:
		return "confidence must be 'low', 'medium', or 'high'"
	}
	return ""
}

// validateConflictSeverity checks a conflict severity value.
func validateConflictSeverity(severity string) string {
	switch candidate.ConflictSeverity(severity) {
	case candidate.SeverityLow, candidate.SeverityMedium,
		candidate.SeverityHigh, candidate.SeverityCritical:
		return ""
	default:
		return "severity must be 'low', 'medium', 'high', or 'critical'"
	}
}
