// Package routing decides which agent runs next: the smart router ranks
// candidates against the routing policy and the loop guard stops agents from
// handing work back and forth forever.
package routing

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/pkg/models"
)

// Priority ranks a recommendation. Lower values are more urgent.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
	PrioritySkip
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PrioritySkip:
		return "SKIP"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Confidence assigned to each priority band.
const (
	confidenceCritical = 0.9
	confidenceRequired = 0.8
	confidenceDefault  = 0.5
	confidenceOptional = 0.4
)

// AgentRecommendation is one ranked candidate.
type AgentRecommendation struct {
	Agent      models.Agent `json:"agent"`
	Priority   Priority     `json:"priority"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// Router ranks agents against the routing tables of the active policy.
type Router struct {
	policy policy.Provider
}

// NewRouter creates a router. A nil provider means the default policy.
func NewRouter(p policy.Provider) *Router {
	if p == nil {
		p = policy.NewStatic(nil)
	}
	return &Router{policy: p}
}

// ShouldSkip reports whether agent should not run now, and why.
// Checks run in order: execution cap, iteration ceiling, the project
// profile's skip list, then the agent's skip_if conditions.
func (r *Router) ShouldSkip(agent models.Agent, analysis models.ContextAnalysis, wctx *models.WorkflowContext) (bool, string) {
	rp := &r.policy.Current().Routing
	rule, _ := rp.Rule(agent)

	if wctx != nil {
		maxExec := rp.MaxExecutions(agent)
		if n := wctx.ExecutionCount(agent); n >= maxExec {
			return true, fmt.Sprintf("%s already ran %d times (max %d)", agent, n, maxExec)
		}
		if rule.MaxIteration > 0 && wctx.Iteration > rule.MaxIteration {
			return true, fmt.Sprintf("%s only runs up to iteration %d", agent, rule.MaxIteration)
		}
	}
	if profile, ok := rp.Profile(analysis.ProjectType); ok && slices.Contains(profile.SkipAgents, agent) {
		return true, fmt.Sprintf("%s is not needed for %s projects", agent, analysis.ProjectType)
	}
	if cond, ok := policy.FirstTrue(rule.SkipIf, analysis); ok {
		return true, fmt.Sprintf("%s skipped: %s", agent, cond)
	}
	return false, ""
}

// Recommend ranks every agent other than current, most urgent first.
// Skipped agents are included at the end with PrioritySkip.
func (r *Router) Recommend(analysis models.ContextAnalysis, current models.Agent, wctx *models.WorkflowContext) []AgentRecommendation {
	recs := make([]AgentRecommendation, 0, len(models.Roster))
	for _, agent := range models.Roster {
		if agent == current {
			continue
		}
		recs = append(recs, r.evaluate(agent, analysis, wctx))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority < recs[j].Priority
		}
		return recs[i].Confidence > recs[j].Confidence
	})
	return recs
}

// NextRecommendation returns the best non-skipped candidate whose
// confidence clears the policy minimum. ok is false when no agent
// qualifies, which callers treat as "stop or ask a human".
func (r *Router) NextRecommendation(analysis models.ContextAnalysis, current models.Agent, wctx *models.WorkflowContext) (AgentRecommendation, bool) {
	minConf := r.policy.Current().Routing.MinConfidence
	for _, rec := range r.Recommend(analysis, current, wctx) {
		if rec.Priority == PrioritySkip {
			break
		}
		if rec.Confidence >= minConf {
			return rec, true
		}
	}
	return AgentRecommendation{}, false
}

// BranchTarget maps a free-text BRANCH condition to an agent using the
// ordered branch table; no match means the fallback agent.
func (r *Router) BranchTarget(condition string) models.Agent {
	cfg := r.policy.Current()
	lower := strings.ToLower(condition)
	for _, rule := range cfg.Routing.BranchTargets {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Agent
			}
		}
	}
	return cfg.FallbackAgent
}

// FallbackAgent returns the agent that receives unroutable work.
func (r *Router) FallbackAgent() models.Agent {
	return r.policy.Current().FallbackAgent
}

func (r *Router) evaluate(agent models.Agent, analysis models.ContextAnalysis, wctx *models.WorkflowContext) AgentRecommendation {
	if skip, reason := r.ShouldSkip(agent, analysis, wctx); skip {
		return AgentRecommendation{Agent: agent, Priority: PrioritySkip, Reason: reason}
	}

	rp := &r.policy.Current().Routing
	profile, hasProfile := rp.Profile(analysis.ProjectType)
	if hasProfile && slices.Contains(profile.CriticalAgents, agent) {
		return AgentRecommendation{
			Agent:      agent,
			Priority:   PriorityCritical,
			Confidence: confidenceCritical,
			Reason:     fmt.Sprintf("critical for %s projects", analysis.ProjectType),
		}
	}
	rule, _ := rp.Rule(agent)
	if cond, ok := policy.FirstTrue(rule.RequiredFor, analysis); ok {
		return AgentRecommendation{
			Agent:      agent,
			Priority:   PriorityHigh,
			Confidence: confidenceRequired,
			Reason:     "required: " + cond,
		}
	}
	if hasProfile && slices.Contains(profile.OptionalAgents, agent) {
		return AgentRecommendation{
			Agent:      agent,
			Priority:   PriorityLow,
			Confidence: confidenceOptional,
			Reason:     fmt.Sprintf("optional for %s projects", analysis.ProjectType),
		}
	}
	return AgentRecommendation{
		Agent:      agent,
		Priority:   PriorityMedium,
		Confidence: confidenceDefault,
		Reason:     "no specific requirement",
	}
}
