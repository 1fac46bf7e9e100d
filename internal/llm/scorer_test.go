package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/readiness"
	"github.com/ai4altruism/integritykit/internal/retry"
)

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return cfg
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":     "cmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": content},
			},
		},
	}
}

func testCandidate() *candidate.Candidate {
	return &candidate.Candidate{
		ID: "cand-1",
		Fields: candidate.Fields{
			What:  "Shelter at the community hall is at capacity",
			Where: "412 Main St",
		},
	}
}

func TestScoreFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(map[string]any{
			"field_quality_scores": []map[string]string{
				{"field": "what", "quality": "complete"},
				{"field": "where", "quality": "complete"},
				{"field": "when", "quality": "missing"},
				{"field": "who", "quality": "partial"},
				{"field": "nonsense", "quality": "excellent"},
			},
		})
		json.NewEncoder(w).Encode(completionResponse(string(content)))
	}))
	defer srv.Close()

	scorer, err := NewScorer(Config{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}

	scores, err := scorer.ScoreFields(context.Background(), testCandidate())
	if err != nil {
		t.Fatalf("ScoreFields() error = %v", err)
	}

	want := map[candidate.FieldKey]readiness.FieldStatus{
		candidate.FieldWhat:  readiness.StatusComplete,
		candidate.FieldWhere: readiness.StatusComplete,
		candidate.FieldWhen:  readiness.StatusMissing,
		candidate.FieldWho:   readiness.StatusPartial,
	}
	if len(scores) != len(want) {
		t.Fatalf("scores = %v, want %v", scores, want)
	}
	for field, status := range want {
		if scores[field] != status {
			t.Errorf("scores[%s] = %q, want %q", field, scores[field], status)
		}
	}
}

func TestScoreFieldsRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		content, _ := json.Marshal(map[string]any{
			"field_quality_scores": []map[string]string{{"field": "what", "quality": "complete"}},
		})
		json.NewEncoder(w).Encode(completionResponse(string(content)))
	}))
	defer srv.Close()

	scorer, err := NewScorer(Config{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}

	if _, err := scorer.ScoreFields(context.Background(), testCandidate()); err != nil {
		t.Fatalf("ScoreFields() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestScoreFieldsDegradedAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	scorer, err := NewScorer(Config{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}

	if _, err := scorer.ScoreFields(context.Background(), testCandidate()); !errors.Is(err, ErrDegraded) {
		t.Errorf("ScoreFields() error = %v, want ErrDegraded", err)
	}
}

func TestScoreFieldsMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse("not json at all"))
	}))
	defer srv.Close()

	scorer, err := NewScorer(Config{APIKey: "test-key", BaseURL: srv.URL, Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewScorer() error = %v", err)
	}

	if _, err := scorer.ScoreFields(context.Background(), testCandidate()); !errors.Is(err, ErrDegraded) {
		t.Errorf("ScoreFields() error = %v, want ErrDegraded", err)
	}
}

func TestNewScorerRequiresKey(t *testing.T) {
	if _, err := NewScorer(Config{}); err == nil {
		t.Error("NewScorer() with empty key succeeded, want error")
	}
}
