package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeApproval(t *testing.T, rr *httptest.ResponseRecorder) *ApprovalResponse {
	t.Helper()
	var resp ApprovalResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode approval response: %v", err)
	}
	return &resp
}

func TestRequestApprovalEndpoint(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	rr := s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "ready for publication",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rr.Code, rr.Body.String())
	}

	resp := decodeApproval(t, rr)
	if resp.Status != "pending" {
		t.Errorf("expected status pending, got %s", resp.Status)
	}
	if resp.RequestedBy != "fac-1" {
		t.Errorf("expected requested_by fac-1, got %s", resp.RequestedBy)
	}
	if resp.ExpiresAt.IsZero() {
		t.Error("expected expires_at to be set")
	}
}

func TestRequestApprovalMissingCandidate(t *testing.T) {
	s := newAPIStack(t)

	rr := s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		Reason: "ready for publication",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestRequestApprovalDuplicatePending(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	body := RequestApprovalRequest{CandidateID: created.ID, Reason: "ready for publication"}
	s.do(t, "fac-1", http.MethodPost, "/approvals", body)

	rr := s.do(t, "fac-2", http.MethodPost, "/approvals", body)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != ErrCodeApprovalPending {
		t.Errorf("expected error code %s, got %s", ErrCodeApprovalPending, code)
	}
}

func TestDecideApprovalSelfApprovalRejected(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	a := decodeApproval(t, s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "ready for publication",
	}))

	rr := s.do(t, "fac-1", http.MethodPost, "/approvals/"+a.ID+"/decide", DecideApprovalRequest{
		Grant:         true,
		Justification: "approving my own request",
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != ErrCodeSelfApproval {
		t.Errorf("expected error code %s, got %s", ErrCodeSelfApproval, code)
	}
}

func TestDecideApprovalGrantAndDeny(t *testing.T) {
	s := newAPIStack(t)

	tests := []struct {
		name       string
		grant      bool
		wantStatus string
	}{
		{name: "granted", grant: true, wantStatus: "granted"},
		{name: "denied", grant: false, wantStatus: "denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))
			a := decodeApproval(t, s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
				CandidateID: created.ID,
				Reason:      "ready for publication",
			}))

			rr := s.do(t, "fac-2", http.MethodPost, "/approvals/"+a.ID+"/decide", DecideApprovalRequest{
				Grant:         tt.grant,
				Justification: "reviewed the draft and evidence",
			})
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
			}
			resp := decodeApproval(t, rr)
			if resp.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, resp.Status)
			}
			if resp.DecidedBy != "fac-2" {
				t.Errorf("expected decided_by fac-2, got %s", resp.DecidedBy)
			}
		})
	}
}

func TestDecideApprovalJustificationRequired(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	a := decodeApproval(t, s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "ready for publication",
	}))

	rr := s.do(t, "fac-2", http.MethodPost, "/approvals/"+a.ID+"/decide", DecideApprovalRequest{
		Grant: true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestListApprovalsForCandidate(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	a := decodeApproval(t, s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "first attempt",
	}))
	s.do(t, "fac-1", http.MethodPost, "/approvals/"+a.ID+"/cancel", nil)
	s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "second attempt",
	})

	rr := s.do(t, "fac-1", http.MethodGet, "/approvals?candidate_id="+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp []*ApprovalResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode approval list: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 approvals, got %d", len(resp))
	}
	if resp[0].Status != "pending" || resp[1].Status != "denied" {
		t.Errorf("expected newest-first [pending, denied], got [%s, %s]", resp[0].Status, resp[1].Status)
	}
}

func TestListApprovalsRequiresCandidateID(t *testing.T) {
	s := newAPIStack(t)

	rr := s.do(t, "fac-1", http.MethodGet, "/approvals", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestCancelApprovalOnlyRequester(t *testing.T) {
	s := newAPIStack(t)
	created := decodeCandidate(t, s.do(t, "fac-1", http.MethodPost, "/candidates", routineCreateBody()))

	a := decodeApproval(t, s.do(t, "fac-1", http.MethodPost, "/approvals", RequestApprovalRequest{
		CandidateID: created.ID,
		Reason:      "ready for publication",
	}))

	rr := s.do(t, "fac-2", http.MethodPost, "/approvals/"+a.ID+"/cancel", nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403 for non-requester, got %d", rr.Code)
	}

	rr = s.do(t, "fac-1", http.MethodPost, "/approvals/"+a.ID+"/cancel", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	resp := decodeApproval(t, rr)
	if resp.Status != "denied" {
		t.Errorf("expected status denied after cancel, got %s", resp.Status)
	}
}
