package routing

import (
	"slices"

	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/pkg/models"
)

// LoopGuard detects agents cycling through the same handoffs and picks a
// way out.
type LoopGuard struct {
	policy policy.Provider
}

// NewLoopGuard creates a loop guard. A nil provider means the default policy.
func NewLoopGuard(p policy.Provider) *LoopGuard {
	if p == nil {
		p = policy.NewStatic(nil)
	}
	return &LoopGuard{policy: p}
}

// DetectLoop reports whether handing work to candidate would continue a
// loop. Only the trailing window of executed agents is inspected; shorter
// histories never count as a loop. A loop is either exactly two distinct
// agents filling the whole window, or candidate occupying at least
// RepeatThreshold slots of it.
func (g *LoopGuard) DetectLoop(candidate models.Agent, wctx *models.WorkflowContext) bool {
	lp := g.policy.Current().Loop
	history := wctx.AgentHistory()
	if len(history) < lp.Window {
		return false
	}
	recent := history[len(history)-lp.Window:]

	if distinctAgents(recent) == 2 {
		return true
	}
	count := 0
	for _, a := range recent {
		if a == candidate {
			count++
		}
	}
	return count >= lp.RepeatThreshold
}

// BreakLoop picks a substitute for current. ok is false when the workflow
// should be completed instead: simple projects that already ran long, or no
// essential agent left that has not run recently.
func (g *LoopGuard) BreakLoop(current models.Agent, wctx *models.WorkflowContext) (models.Agent, bool) {
	lp := g.policy.Current().Loop
	history := wctx.AgentHistory()

	if wctx != nil && wctx.Analysis != nil &&
		wctx.Analysis.ComplexityLevel == models.ComplexitySimple &&
		len(history) > lp.SimpleHistoryLimit {
		return models.AgentUnknown, false
	}

	start := len(history) - lp.BreakWindow
	if start < 0 {
		start = 0
	}
	recent := history[start:]
	for _, a := range lp.EssentialAgents {
		if a != current && !slices.Contains(recent, a) {
			return a, true
		}
	}
	return models.AgentUnknown, false
}

// distinctAgents counts the different agents in window.
func distinctAgents(window []models.Agent) int {
	seen := make(map[models.Agent]struct{}, len(window))
	for _, a := range window {
		seen[a] = struct{}{}
	}
	return len(seen)
}
