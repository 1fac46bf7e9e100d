// Package llm scores candidate field quality with a language model. The
// scorer feeds the readiness evaluator; when the upstream is unavailable
// it reports degradation and the evaluator falls back to rules.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/readiness"
	"github.com/ai4altruism/integritykit/internal/retry"
)

// ErrDegraded marks scorer failures the caller should treat as a
// temporary loss of the model, not of the candidate.
var ErrDegraded = errors.New("llm scorer degraded")

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You assess the quality of crisis information fields.
For each field, judge whether the value is complete (specific and
actionable), partial (vague, placeholder, or too short), or missing.
Respond with JSON only: {"field_quality_scores": [{"field": "<name>",
"quality": "complete|partial|missing"}]}.`

// Config configures the scorer.
type Config struct {
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// BaseURL overrides the API endpoint, for proxies or compatible
	// backends.
	BaseURL string

	Retry  retry.Config
	Logger *slog.Logger
}

// Scorer implements readiness.Scorer against a chat completion API.
type Scorer struct {
	client   *openai.Client
	model    string
	retryCfg retry.Config
	logger   *slog.Logger
}

// NewScorer returns a scorer, or an error when no API key is set.
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Scorer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		retryCfg: cfg.Retry,
		logger:   cfg.Logger,
	}, nil
}

type scoreResponse struct {
	FieldQualityScores []struct {
		Field   string `json:"field"`
		Quality string `json:"quality"`
	} `json:"field_quality_scores"`
}

// ScoreFields asks the model for per-field quality grades. Transient API
// failures are retried; persistent failure returns ErrDegraded.
func (s *Scorer) ScoreFields(ctx context.Context, c *candidate.Candidate) (map[candidate.FieldKey]readiness.FieldStatus, error) {
	prompt := buildPrompt(c)

	var content string
	err := retry.Do(ctx, s.retryCfg, "llm_score_fields", func(ctx context.Context) error {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       s.model,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			return retry.Mark(err)
		}
		if len(resp.Choices) == 0 {
			return retry.Mark(errors.New("empty completion response"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrDegraded, err)
	}

	out := make(map[candidate.FieldKey]readiness.FieldStatus, len(parsed.FieldQualityScores))
	for _, fq := range parsed.FieldQualityScores {
		status, ok := parseStatus(fq.Quality)
		if !ok {
			continue
		}
		out[candidate.FieldKey(fq.Field)] = status
	}

	s.logger.Debug("scored candidate fields",
		"candidate_id", c.ID,
		"model", s.model,
		"scored_fields", len(out))
	return out, nil
}

func buildPrompt(c *candidate.Candidate) string {
	var b strings.Builder
	b.WriteString("Assess these fields:\n")
	for _, key := range candidate.RequiredFields {
		fmt.Fprintf(&b, "- %s: %q\n", key, c.Fields.Get(key))
	}
	fmt.Fprintf(&b, "Evidence sources: %d\n", len(c.Evidence))
	return b.String()
}

func parseStatus(quality string) (readiness.FieldStatus, bool) {
	switch quality {
	case "complete":
		return readiness.StatusComplete, true
	case "partial":
		return readiness.StatusPartial, true
	case "missing":
		return readiness.StatusMissing, true
	default:
		return "", false
	}
}
