// Package risk classifies candidate content into risk tiers and enforces
// the publish gate. Classification scans the candidate's combined text for
// life-safety keywords; high-stakes content cannot be published without
// verification or an explicit, audited override.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ai4altruism/integritykit/internal/audit"
	"github.com/ai4altruism/integritykit/internal/candidate"
	"github.com/ai4altruism/integritykit/internal/rbac"
)

var (
	// ErrJustificationTooShort is returned when an override rationale
	// does not meet the minimum length.
	ErrJustificationTooShort = errors.New("override justification too short")

	// ErrInvalidTier is returned for an unknown risk tier.
	ErrInvalidTier = errors.New("invalid risk tier")
)

// MinOverrideJustification is the minimum trimmed length of a tier
// override rationale.
const MinOverrideJustification = 10

// DefaultOverrideTTL bounds how long a tier override stays effective.
const DefaultOverrideTTL = 2 * time.Hour

// elevatedEscalationCount is the number of distinct elevated signals that
// escalates a candidate to high_stakes.
const elevatedEscalationCount = 3

// contextWindow is the number of characters captured around a keyword
// match.
const contextWindow = 50

// Signal is one keyword match found in candidate content.
type Signal struct {
	Type     SignalType
	Keyword  string
	Context  string
	Severity candidate.RiskTier
}

// Classification is the result of scanning one candidate.
type Classification struct {
	CandidateID  string
	ComputedTier candidate.RiskTier
	// FinalTier is the tier after an active override, if any.
	FinalTier    candidate.RiskTier
	Signals      []Signal
	Override     *candidate.TierOverride
	Explanation  string
	ClassifiedAt time.Time
}

// AuditLog records classification overrides and gate decisions. Satisfied
// by *audit.Service.
type AuditLog interface {
	Log(ctx context.Context, rec audit.Record) (*audit.Entry, error)
}

// wordPatterns holds precompiled word-boundary patterns for single-word
// keywords. Phrases match by substring.
var wordPatterns = buildWordPatterns()

func buildWordPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp)
	for _, set := range []map[SignalType][]string{highStakesKeywords, elevatedKeywords} {
		for _, keywords := range set {
			for _, kw := range keywords {
				if !strings.Contains(kw, " ") {
					patterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
				}
			}
		}
	}
	return patterns
}

// ClassifierConfig tunes the classifier.
type ClassifierConfig struct {
	// OverrideTTL bounds tier override lifetime. Zero means
	// DefaultOverrideTTL.
	OverrideTTL time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// Classifier computes risk classifications and records overrides.
type Classifier struct {
	trail       AuditLog
	overrideTTL time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	timeNow     func() time.Time
}

// NewClassifier returns a classifier. trail must not be nil: every
// override is audited.
func NewClassifier(trail AuditLog, cfg ClassifierConfig) (*Classifier, error) {
	if trail == nil {
		return nil, errors.New("risk: audit log is required")
	}
	if cfg.OverrideTTL <= 0 {
		cfg.OverrideTTL = DefaultOverrideTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		trail:       trail,
		overrideTTL: cfg.OverrideTTL,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		timeNow:     time.Now,
	}, nil
}

// Classify scans c's content and returns its classification. It never
// mutates c.
func (cl *Classifier) Classify(c *candidate.Candidate) Classification {
	text := strings.ToLower(c.CombinedText())
	signals := detectSignals(text)
	computed := tierFromSignals(signals)

	final := computed
	var override *candidate.TierOverride
	if ov := c.TierOverride; ov != nil && cl.overrideActive(c, ov) {
		override = ov
		final = ov.NewTier
	}

	cl.logger.Info("classified candidate risk tier",
		"candidate_id", c.ID,
		"computed_tier", string(computed),
		"final_tier", string(final),
		"signal_count", len(signals),
		"has_override", override != nil)
	if cl.metrics != nil {
		cl.metrics.IncClassifications(final)
	}

	return Classification{
		CandidateID:  c.ID,
		ComputedTier: computed,
		FinalTier:    final,
		Signals:      signals,
		Override:     override,
		Explanation:  explain(computed, signals),
		ClassifiedAt: cl.timeNow().UTC(),
	}
}

// overrideActive reports whether ov still binds: it must have been issued
// against the candidate's current revision and be within its TTL.
func (cl *Classifier) overrideActive(c *candidate.Candidate, ov *candidate.TierOverride) bool {
	if ov.Revision != c.Revision {
		return false
	}
	return cl.timeNow().UTC().Sub(ov.OverriddenAt) <= cl.overrideTTL
}

// OverrideTier records a human override of c's computed tier. The
// override binds until the candidate content changes or the TTL lapses,
// and is always audited with the actor's rationale.
func (cl *Classifier) OverrideTier(ctx context.Context, actor *rbac.User, c *candidate.Candidate, newTier candidate.RiskTier, justification string) error {
	if !candidate.ValidTiers[newTier] {
		return fmt.Errorf("%w: %q", ErrInvalidTier, newTier)
	}
	justification = strings.TrimSpace(justification)
	if len(justification) < MinOverrideJustification {
		return fmt.Errorf("%w: need at least %d characters", ErrJustificationTooShort, MinOverrideJustification)
	}

	previous := c.EffectiveTier()
	c.TierOverride = &candidate.TierOverride{
		PreviousTier:  previous,
		NewTier:       newTier,
		OverriddenBy:  actor.ID,
		OverriddenAt:  cl.timeNow().UTC(),
		Justification: justification,
		Revision:      c.Revision,
	}

	if _, err := cl.trail.Log(ctx, audit.Record{
		ActorID:       actor.ID,
		ActorRoles:    actor.RoleNames(),
		Action:        audit.ActionCandidateUpdateRisk,
		TargetType:    audit.TargetCandidate,
		TargetID:      c.ID,
		Before:        map[string]any{"risk_tier": string(previous)},
		After:         map[string]any{"risk_tier": string(newTier)},
		Justification: justification,
	}); err != nil {
		return fmt.Errorf("failed to audit tier override: %w", err)
	}

	cl.logger.Info("risk tier overridden",
		"candidate_id", c.ID,
		"previous_tier", string(previous),
		"new_tier", string(newTier),
		"overridden_by", actor.ID)
	if cl.metrics != nil {
		cl.metrics.IncOverrides()
	}
	return nil
}

func detectSignals(text string) []Signal {
	var signals []Signal
	signals = appendMatches(signals, text, highStakesKeywords, candidate.TierHighStakes)
	if len(signals) == 0 {
		signals = appendMatches(signals, text, elevatedKeywords, candidate.TierElevated)
	}
	return signals
}

func appendMatches(signals []Signal, text string, keywords map[SignalType][]string, severity candidate.RiskTier) []Signal {
	types := make([]SignalType, 0, len(keywords))
	for t := range keywords {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		for _, kw := range keywords[t] {
			if !keywordMatch(kw, text) {
				continue
			}
			signals = append(signals, Signal{
				Type:     t,
				Keyword:  kw,
				Context:  extractContext(kw, text),
				Severity: severity,
			})
		}
	}
	return signals
}

// keywordMatch applies word boundaries to single words and substring
// matching to phrases. text must already be lowercased.
func keywordMatch(keyword, text string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	return wordPatterns[keyword].MatchString(text)
}

func extractContext(keyword, text string) string {
	idx := strings.Index(text, keyword)
	if idx == -1 {
		return ""
	}
	start := idx - contextWindow
	if start < 0 {
		start = 0
	}
	end := idx + len(keyword) + contextWindow
	if end > len(text) {
		end = len(text)
	}
	out := text[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out += "..."
	}
	return out
}

func tierFromSignals(signals []Signal) candidate.RiskTier {
	if len(signals) == 0 {
		return candidate.TierRoutine
	}
	elevated := 0
	for _, s := range signals {
		if s.Severity == candidate.TierHighStakes {
			return candidate.TierHighStakes
		}
		if s.Severity == candidate.TierElevated {
			elevated++
		}
	}
	if elevated >= elevatedEscalationCount {
		return candidate.TierHighStakes
	}
	if elevated > 0 {
		return candidate.TierElevated
	}
	return candidate.TierRoutine
}

func explain(tier candidate.RiskTier, signals []Signal) string {
	switch tier {
	case candidate.TierRoutine:
		return "no high-stakes or elevated risk signals detected"
	case candidate.TierElevated:
		seen := make(map[SignalType]bool)
		var types []string
		for _, s := range signals {
			if !seen[s.Type] {
				seen[s.Type] = true
				types = append(types, string(s.Type))
			}
		}
		return "elevated risk due to: " + strings.Join(types, ", ")
	case candidate.TierHighStakes:
		var keywords []string
		for _, s := range signals {
			if s.Severity == candidate.TierHighStakes {
				keywords = append(keywords, s.Keyword)
				if len(keywords) == 3 {
					break
				}
			}
		}
		if len(keywords) > 0 {
			return "high stakes: contains life-safety keywords (" + strings.Join(keywords, ", ") + ")"
		}
		return "high stakes: multiple elevated risk indicators"
	}
	return "classification complete"
}
