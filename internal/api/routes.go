package api

import (
	"net/http"
)

// Router bundles all handler groups behind one mux.
type Router struct {
	Candidates *CandidateHandlers
	Approvals  *ApprovalHandlers
	Audit      *AuditHandlers
	Users      *UserHandlers
	Health     *HealthHandlers
}

// Mux builds the route table. Method-qualified patterns handle 405s;
// health probes and metrics are mounted by the caller so they can skip
// the auth middleware.
func (rt *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /candidates", rt.Candidates.Create)
	mux.HandleFunc("GET /candidates", rt.Candidates.List)
	mux.HandleFunc("GET /candidates/{id}", rt.Candidates.Get)
	mux.HandleFunc("PATCH /candidates/{id}", rt.Candidates.Update)
	mux.HandleFunc("POST /candidates/{id}/verify", rt.Candidates.Verify)
	mux.HandleFunc("POST /candidates/{id}/evidence", rt.Candidates.AddEvidence)
	mux.HandleFunc("POST /candidates/{id}/conflicts", rt.Candidates.RecordConflict)
	mux.HandleFunc("POST /candidates/{id}/conflicts/{conflict_id}/resolve", rt.Candidates.ResolveConflict)
	mux.HandleFunc("POST /candidates/{id}/tier", rt.Candidates.OverrideTier)
	mux.HandleFunc("POST /candidates/{id}/gate", rt.Candidates.CheckGate)
	mux.HandleFunc("POST /candidates/{id}/publish", rt.Candidates.Publish)
	mux.HandleFunc("POST /candidates/{id}/reevaluate", rt.Candidates.Reevaluate)

	mux.HandleFunc("POST /approvals", rt.Approvals.Request)
	mux.HandleFunc("GET /approvals", rt.Approvals.List)
	mux.HandleFunc("POST /approvals/{id}/decide", rt.Approvals.Decide)
	mux.HandleFunc("POST /approvals/{id}/cancel", rt.Approvals.Cancel)

	mux.HandleFunc("GET /audit", rt.Audit.Query)
	mux.HandleFunc("GET /audit/export", rt.Audit.Export)
	mux.HandleFunc("GET /audit/verify", rt.Audit.Verify)

	mux.HandleFunc("GET /users", rt.Users.List)
	mux.HandleFunc("GET /users/{id}", rt.Users.Get)
	mux.HandleFunc("POST /users/{id}/roles", rt.Users.ChangeRole)
	mux.HandleFunc("POST /users/{id}/suspend", rt.Users.Suspend)
	mux.HandleFunc("POST /users/{id}/reinstate", rt.Users.Reinstate)

	return mux
}
