package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/middleware"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

// AuditHandlers holds dependencies for audit trail HTTP handlers.
type AuditHandlers struct {
	svc   *audit.Service
	rbac  *rbac.Service
	users ActorSource
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(svc *audit.Service, rbacSvc *rbac.Service, users ActorSource) *AuditHandlers {
	return &AuditHandlers{svc: svc, rbac: rbacSvc, users: users}
}

// AuditEntryResponse is the wire representation of an audit entry.
type AuditEntryResponse struct {
	ID         string   `json:"id"`
	ActorID    string   `json:"actor_id"`
	ActorRoles []string `json:"actor_roles,omitempty"`

	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`

	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`

	Justification string `json:"justification,omitempty"`

	IsFlagged  bool   `json:"is_flagged,omitempty"`
	FlagReason string `json:"flag_reason,omitempty"`

	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	PrevHash  string    `json:"prev_hash,omitempty"`
}

func toAuditEntryResponses(entries []*audit.Entry) []*AuditEntryResponse {
	out := make([]*AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, &AuditEntryResponse{
			ID:            e.ID,
			ActorID:       e.ActorID,
			ActorRoles:    e.ActorRoles,
			Action:        string(e.Action),
			TargetType:    string(e.TargetType),
			TargetID:      e.TargetID,
			Before:        e.Before,
			After:         e.After,
			Justification: e.Justification,
			IsFlagged:     e.IsFlagged,
			FlagReason:    e.FlagReason,
			RequestID:     e.RequestID,
			CreatedAt:     e.CreatedAt,
			PrevHash:      e.PrevHash,
		})
	}
	return out
}

// Query handles GET /audit. Filters are mutually exclusive: target_type +
// target_id, actor_id, action, flagged=true, or a from/to time range.
func (h *AuditHandlers) Query(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}
	if err := h.rbac.RequirePermission(actor, rbac.PermViewAuditLog); err != nil {
		writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
	}

	var (
		entries []*audit.Entry
		err     error
	)
	switch {
	case q.Get("target_id") != "":
		entries, err = h.svc.ByTarget(r.Context(),
			audit.TargetType(q.Get("target_type")), q.Get("target_id"), limit)
	case q.Get("actor_id") != "":
		entries, err = h.svc.ByActor(r.Context(), q.Get("actor_id"), limit)
	case q.Get("action") != "":
		entries, err = h.svc.ByAction(r.Context(), audit.ActionType(q.Get("action")), limit)
	case q.Get("flagged") == "true":
		entries, err = h.svc.Flagged(r.Context(), limit)
	default:
		var from, to time.Time
		if from, to, err = parseTimeRange(q.Get("from"), q.Get("to")); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		entries, err = h.svc.Range(r.Context(), from, to, limit)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": toAuditEntryResponses(entries)})
}

// Export handles GET /audit/export. Streams the trail as CSV or JSON.
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}
	if err := h.rbac.RequirePermission(actor, rbac.PermExportAudit); err != nil {
		writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	format := audit.ExportFormat(q.Get("format"))
	if format == "" {
		format = audit.ExportFormatJSON
	}
	if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "format must be 'csv' or 'json'")
		return
	}

	from, to, err := parseTimeRange(q.Get("from"), q.Get("to"))
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	data, err := h.svc.Export(r.Context(), audit.ExportOptions{
		Format:  format,
		From:    from,
		To:      to,
		ActorID: q.Get("actor_id"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	contentType := "application/json; charset=utf-8"
	filename := "audit-export.json"
	if format == audit.ExportFormatCSV {
		contentType = "text/csv; charset=utf-8"
		filename = "audit-export.csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Verify handles GET /audit/verify. Walks the full hash chain.
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r, h.users)
	if !ok {
		return
	}
	if err := h.rbac.RequirePermission(actor, rbac.PermViewAuditLog); err != nil {
		writeServiceError(w, r, err)
		return
	}

	status, err := h.svc.VerifyChain(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// parseTimeRange parses optional RFC3339 bounds. Empty values leave that
// side of the range open.
func parseTimeRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromRaw != "" {
		if from, err = time.Parse(time.RFC3339, fromRaw); err != nil {
			return from, to, &timeRangeError{"from"}
		}
	}
	if toRaw != "" {
		if to, err = time.Parse(time.RFC3339, toRaw); err != nil {
			return from, to, &timeRangeError{"to"}
		}
	}
	return from, to, nil
}

type timeRangeError struct{ param string }

func (e *timeRangeError) Error() string {
	return e.param + " must be an RFC3339 timestamp"
}
