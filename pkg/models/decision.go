package models

// Action is the routing intent an agent expresses in its response.
type Action string

const (
	ActionComplete    Action = "COMPLETE"
	ActionNextAgent   Action = "NEXT_AGENT"
	ActionHumanReview Action = "HUMAN_REVIEW"
	ActionRetry       Action = "RETRY"
	ActionParallel    Action = "PARALLEL"
	ActionBranch      Action = "BRANCH"
)

// Valid returns true if the action is a known value.
func (a Action) Valid() bool {
	switch a {
	case ActionComplete, ActionNextAgent, ActionHumanReview,
		ActionRetry, ActionParallel, ActionBranch:
		return true
	default:
		return false
	}
}

// AgentDecision is the intent parsed from one agent response.
// Target is set only for NEXT_AGENT, Targets only for PARALLEL and
// Condition only for BRANCH.
type AgentDecision struct {
	Action     Action  `json:"action"`
	Target     Agent   `json:"target,omitempty"`
	Targets    []Agent `json:"targets,omitempty"`
	Condition  string  `json:"condition,omitempty"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Confidence bounds for parsed decisions.
const (
	MinConfidence = 0.1
	MaxConfidence = 1.0
)

// ClampConfidence limits c to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// NextAgentDecision builds a NEXT_AGENT decision.
func NextAgentDecision(target Agent, reason string, confidence float64) AgentDecision {
	return AgentDecision{
		Action:     ActionNextAgent,
		Target:     target,
		Reason:     reason,
		Confidence: ClampConfidence(confidence),
	}
}
