// Package decision extracts routing intent and handoff packets from free-text
// agent responses.
package decision

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/pkg/models"
)

// tagPattern binds one decision tag to its action. Patterns are checked in
// slice order and the first match wins, regardless of where in the text
// each tag appears.
type tagPattern struct {
	action models.Action
	re     *regexp.Regexp
}

var tagPatterns = []tagPattern{
	{models.ActionComplete, regexp.MustCompile(`(?i)\[\s*COMPLETE\s*\]`)},
	{models.ActionNextAgent, regexp.MustCompile(`(?i)\[\s*NEXT_AGENT\s*:\s*([^\]]+)\]`)},
	{models.ActionHumanReview, regexp.MustCompile(`(?i)\[\s*HUMAN_REVIEW\s*(?::\s*([^\]]*))?\]`)},
	{models.ActionRetry, regexp.MustCompile(`(?i)\[\s*RETRY\s*(?::\s*([^\]]*))?\]`)},
	{models.ActionParallel, regexp.MustCompile(`(?i)\[\s*PARALLEL\s*:\s*([^\]]+)\]`)},
	{models.ActionBranch, regexp.MustCompile(`(?i)\[\s*BRANCH\s*:\s*([^\]]+)\]`)},
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// Parser turns agent responses into decisions using the decision tables of
// the active policy.
type Parser struct {
	policy policy.Provider
}

// NewParser creates a parser. A nil provider means the default policy.
func NewParser(p policy.Provider) *Parser {
	if p == nil {
		p = policy.NewStatic(nil)
	}
	return &Parser{policy: p}
}

// Parse extracts a decision from text. It never fails: a response without
// any recognizable signal routes to the fallback agent with low confidence.
func (p *Parser) Parse(text string) models.AgentDecision {
	cfg := p.policy.Current()
	for _, tp := range tagPatterns {
		loc := tp.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		var payload string
		if len(loc) >= 4 && loc[2] >= 0 {
			payload = strings.TrimSpace(text[loc[2]:loc[3]])
		}
		d := models.AgentDecision{
			Action:     tp.action,
			Reason:     extractReason(text, loc[0], tp.action, &cfg.Decision),
			Confidence: scoreConfidence(text, tp.action, &cfg.Decision),
		}
		switch tp.action {
		case models.ActionNextAgent:
			d.Target = models.AgentOrRaw(payload)
		case models.ActionParallel:
			d.Targets = splitTargets(payload)
		case models.ActionBranch:
			d.Condition = payload
		}
		return d
	}
	return classifyFallback(text, cfg)
}

// scoreConfidence starts at the base score, moves by one step for every
// positive or negative keyword present, adds any action bonus and clamps.
func scoreConfidence(text string, action models.Action, dp *policy.DecisionPolicy) float64 {
	lower := strings.ToLower(text)
	score := dp.BaseConfidence
	for _, kw := range dp.PositiveKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += dp.KeywordStep
		}
	}
	for _, kw := range dp.NegativeKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score -= dp.KeywordStep
		}
	}
	for _, b := range dp.Bonuses {
		if b.Action == action && strings.Contains(lower, strings.ToLower(b.Keyword)) {
			score += b.Bonus
		}
	}
	return models.ClampConfidence(score)
}

// extractReason returns the last sentence of the window preceding the tag,
// or a generic reason when that sentence is too short to be useful.
func extractReason(text string, tagStart int, action models.Action, dp *policy.DecisionPolicy) string {
	start := tagStart - dp.ReasonWindow
	if start < 0 {
		start = 0
	}
	for start < tagStart && !utf8.RuneStart(text[start]) {
		start++
	}
	window := text[start:tagStart]
	parts := sentenceSplit.Split(window, -1)
	for i := len(parts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(parts[i])
		if s == "" {
			continue
		}
		if len(s) > dp.MinReasonLength {
			return s
		}
		break
	}
	return fmt.Sprintf("agent requested %s", action)
}

func splitTargets(payload string) []models.Agent {
	var out []models.Agent
	for _, name := range strings.Split(payload, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, models.AgentOrRaw(name))
	}
	return out
}

// classifyFallback scans the ordered keyword buckets and returns the first
// bucket's decision, or the default decision when none match.
func classifyFallback(text string, cfg *policy.Config) models.AgentDecision {
	lower := strings.ToLower(text)
	for _, b := range cfg.Decision.Buckets {
		for _, kw := range b.Keywords {
			if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
				continue
			}
			d := models.AgentDecision{
				Action:     b.Action,
				Reason:     fmt.Sprintf("no decision tag; matched %s keyword %q", b.Name, kw),
				Confidence: models.ClampConfidence(b.Confidence),
			}
			if b.Action == models.ActionNextAgent {
				d.Target = b.Target
			}
			return d
		}
	}
	return models.NextAgentDecision(
		cfg.FallbackAgent,
		"no decision signal found; routing to fallback agent",
		cfg.Decision.DefaultConfidence,
	)
}
