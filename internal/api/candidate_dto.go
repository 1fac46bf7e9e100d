package api

import (
	"time"

	"github.com/ai4altruism/integritykit/internal/candidate"
)

// CandidateResponse is the wire representation of a candidate.
type CandidateResponse struct {
	ID        string `json:"id"`
	ClusterID string `json:"cluster_id,omitempty"`

	Fields   FieldsPayload     `json:"fields"`
	Evidence []CitationPayload `json:"evidence,omitempty"`

	Verifications []VerificationResponse `json:"verifications,omitempty"`
	Conflicts     []ConflictResponse     `json:"conflicts,omitempty"`

	ReadinessState     string                  `json:"readiness_state"`
	ReadinessUpdatedAt time.Time               `json:"readiness_updated_at"`
	MissingFields      []string                `json:"missing_fields,omitempty"`
	BlockingIssues     []BlockingIssueResponse `json:"blocking_issues,omitempty"`
	RecommendedAction  *RecommendedActionBody  `json:"recommended_action,omitempty"`

	RiskTier      string                `json:"risk_tier"`
	EffectiveTier string                `json:"effective_tier"`
	TierOverride  *TierOverrideResponse `json:"tier_override,omitempty"`

	PublishedAt *time.Time `json:"published_at,omitempty"`
	PublishedBy string     `json:"published_by,omitempty"`

	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldsPayload carries the five semantic fields on requests and responses.
type FieldsPayload struct {
	What   string `json:"what,omitempty"`
	Where  string `json:"where,omitempty"`
	When   string `json:"when,omitempty"`
	Who    string `json:"who,omitempty"`
	SoWhat string `json:"so_what,omitempty"`
}

// CitationPayload carries one evidence citation.
type CitationPayload struct {
	URL         string     `json:"url"`
	SourceName  string     `json:"source_name,omitempty"`
	Description string     `json:"description,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// VerificationResponse is one verification record.
type VerificationResponse struct {
	VerifiedBy string    `json:"verified_by"`
	VerifiedAt time.Time `json:"verified_at"`
	Method     string    `json:"method"`
	Notes      string    `json:"notes,omitempty"`
	Confidence string    `json:"confidence"`
}

// ConflictResponse is one recorded conflict.
type ConflictResponse struct {
	ID              string `json:"id"`
	Field           string `json:"field"`
	Description     string `json:"description"`
	Severity        string `json:"severity"`
	Resolved        bool   `json:"resolved"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
}

// BlockingIssueResponse is one readiness issue.
type BlockingIssueResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// RecommendedActionBody is the evaluator's suggested next step.
type RecommendedActionBody struct {
	Action       string   `json:"action"`
	Reason       string   `json:"reason,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// TierOverrideResponse is an active tier override.
type TierOverrideResponse struct {
	PreviousTier  string    `json:"previous_tier"`
	NewTier       string    `json:"new_tier"`
	OverriddenBy  string    `json:"overridden_by"`
	OverriddenAt  time.Time `json:"overridden_at"`
	Justification string    `json:"justification"`
	Revision      int       `json:"revision"`
}

func (p FieldsPayload) toModel() candidate.Fields {
	return candidate.Fields{
		What:   p.What,
		Where:  p.Where,
		When:   p.When,
		Who:    p.Who,
		SoWhat: p.SoWhat,
	}
}

func citationsToModel(payloads []CitationPayload) []candidate.Citation {
	if len(payloads) == 0 {
		return nil
	}
	out := make([]candidate.Citation, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, candidate.Citation{
			URL:         p.URL,
			SourceName:  p.SourceName,
			Description: p.Description,
			RetrievedAt: p.RetrievedAt,
		})
	}
	return out
}

func toCandidateResponse(c *candidate.Candidate) *CandidateResponse {
	resp := &CandidateResponse{
		ID:        c.ID,
		ClusterID: c.ClusterID,
		Fields: FieldsPayload{
			What:   c.Fields.What,
			Where:  c.Fields.Where,
			When:   c.Fields.When,
			Who:    c.Fields.Who,
			SoWhat: c.Fields.SoWhat,
		},
		ReadinessState:     string(c.ReadinessState),
		ReadinessUpdatedAt: c.ReadinessUpdatedAt,
		RiskTier:           string(c.RiskTier),
		EffectiveTier:      string(c.EffectiveTier()),
		PublishedAt:        c.PublishedAt,
		PublishedBy:        c.PublishedBy,
		Revision:           c.Revision,
		CreatedAt:          c.CreatedAt,
		CreatedBy:          c.CreatedBy,
		UpdatedAt:          c.UpdatedAt,
	}

	for _, cite := range c.Evidence {
		resp.Evidence = append(resp.Evidence, CitationPayload{
			URL:         cite.URL,
			SourceName:  cite.SourceName,
			Description: cite.Description,
			RetrievedAt: cite.RetrievedAt,
		})
	}
	for _, v := range c.Verifications {
		resp.Verifications = append(resp.Verifications, VerificationResponse{
			VerifiedBy: v.VerifiedBy,
			VerifiedAt: v.VerifiedAt,
			Method:     string(v.Method),
			Notes:      v.Notes,
			Confidence: string(v.Confidence),
		})
	}
	for _, conflict := range c.Conflicts {
		resp.Conflicts = append(resp.Conflicts, ConflictResponse{
			ID:              conflict.ID,
			Field:           string(conflict.Field),
			Description:     conflict.Description,
			Severity:        string(conflict.Severity),
			Resolved:        conflict.Resolved,
			ResolutionNotes: conflict.ResolutionNotes,
		})
	}
	for _, f := range c.MissingFields {
		resp.MissingFields = append(resp.MissingFields, string(f))
	}
	for _, issue := range c.BlockingIssues {
		resp.BlockingIssues = append(resp.BlockingIssues, BlockingIssueResponse{
			Code:        issue.Code,
			Description: issue.Description,
			Severity:    string(issue.Severity),
		})
	}
	if c.RecommendedAction != nil {
		body := &RecommendedActionBody{
			Action: string(c.RecommendedAction.Action),
			Reason: c.RecommendedAction.Reason,
		}
		for _, alt := range c.RecommendedAction.Alternatives {
			body.Alternatives = append(body.Alternatives, string(alt))
		}
		resp.RecommendedAction = body
	}
	if c.TierOverride != nil {
		resp.TierOverride = &TierOverrideResponse{
			PreviousTier:  string(c.TierOverride.PreviousTier),
			NewTier:       string(c.TierOverride.NewTier),
			OverriddenBy:  c.TierOverride.OverriddenBy,
			OverriddenAt:  c.TierOverride.OverriddenAt,
			Justification: c.TierOverride.Justification,
			Revision:      c.TierOverride.Revision,
		}
	}
	return resp
}

func toCandidateResponses(cs []*candidate.Candidate) []*CandidateResponse {
	out := make([]*CandidateResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCandidateResponse(c))
	}
	return out
}
