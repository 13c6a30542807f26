package models

import "time"

// ExecutionStatus describes what happened to one agent step.
type ExecutionStatus string

const (
	// ExecutionExecuted means the agent was called and a decision parsed.
	ExecutionExecuted ExecutionStatus = "executed"
	// ExecutionSkipped means the router suppressed the call.
	ExecutionSkipped ExecutionStatus = "skipped"
	// ExecutionError means the step failed and ended the run.
	ExecutionError ExecutionStatus = "error"
)

// ExecutionRecord is one entry of a run's execution history.
type ExecutionRecord struct {
	Iteration int             `json:"iteration"`
	Agent     Agent           `json:"agent"`
	Status    ExecutionStatus `json:"status"`
	Decision  *AgentDecision  `json:"decision,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// WorkflowContext is the mutable state a run shares with the router and the
// loop guard. The workflow engine owns it for the duration of a run.
type WorkflowContext struct {
	Request   string
	Iteration int
	History   []ExecutionRecord
	Analysis  *ContextAnalysis
	// Hints carries caller-supplied overrides such as "project_type" and
	// "complexity".
	Hints map[string]string
}

// Hint returns the named hint or "".
func (w *WorkflowContext) Hint(key string) string {
	if w == nil || w.Hints == nil {
		return ""
	}
	return w.Hints[key]
}

// AgentHistory returns the agents that were actually executed, oldest first.
// Skipped steps are excluded since no agent ran.
func (w *WorkflowContext) AgentHistory() []Agent {
	if w == nil {
		return nil
	}
	out := make([]Agent, 0, len(w.History))
	for _, rec := range w.History {
		if rec.Status == ExecutionSkipped {
			continue
		}
		out = append(out, rec.Agent)
	}
	return out
}

// ExecutionCount returns how many times agent ran in this workflow.
func (w *WorkflowContext) ExecutionCount(agent Agent) int {
	n := 0
	for _, a := range w.AgentHistory() {
		if a == agent {
			n++
		}
	}
	return n
}

// Record appends an execution record.
func (w *WorkflowContext) Record(rec ExecutionRecord) {
	w.History = append(w.History, rec)
}
