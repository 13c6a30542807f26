package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PacketStatus is the outcome an agent reports in a handoff packet.
type PacketStatus string

const (
	PacketSuccess PacketStatus = "SUCCESS"
	PacketFailure PacketStatus = "FAILURE"
	PacketPending PacketStatus = "PENDING"
	PacketBlocked PacketStatus = "BLOCKED"
)

// Valid returns true if the status is a known value.
func (s PacketStatus) Valid() bool {
	switch s {
	case PacketSuccess, PacketFailure, PacketPending, PacketBlocked:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects values outside the closed status set.
func (s *PacketStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("packet status: %w", err)
	}
	v := PacketStatus(raw)
	if !v.Valid() {
		return fmt.Errorf("packet status: unknown value %q", raw)
	}
	*s = v
	return nil
}

// NextStep is the routing hint an agent attaches to its packet.
type NextStep string

const (
	NextStepCodeReview           NextStep = "CODE_REVIEW"
	NextStepTesting              NextStep = "TESTING"
	NextStepSecurityReview       NextStep = "SECURITY_REVIEW"
	NextStepDeployment           NextStep = "DEPLOYMENT"
	NextStepDocumentation        NextStep = "DOCUMENTATION"
	NextStepArchitectureReview   NextStep = "ARCHITECTURE_REVIEW"
	NextStepImplementation       NextStep = "IMPLEMENTATION"
	NextStepRequirementsAnalysis NextStep = "REQUIREMENTS_ANALYSIS"
	NextStepHumanApproval        NextStep = "HUMAN_APPROVAL_NEEDED"
	NextStepWorkflowComplete     NextStep = "WORKFLOW_COMPLETE"
)

// nextStepAgents maps routing hints to the agent that handles them.
// Hints without an agent (human approval, completion) are absent.
var nextStepAgents = map[NextStep]Agent{
	NextStepCodeReview:           AgentCodeReviewer,
	NextStepTesting:              AgentTester,
	NextStepSecurityReview:       AgentSecuritySpecialist,
	NextStepDeployment:           AgentDevOpsSpecialist,
	NextStepDocumentation:        AgentTechnicalWriter,
	NextStepArchitectureReview:   AgentArchitect,
	NextStepImplementation:       AgentCoder,
	NextStepRequirementsAnalysis: AgentProductAnalyst,
}

// Valid returns true if the step is a known value.
func (n NextStep) Valid() bool {
	switch n {
	case NextStepCodeReview, NextStepTesting, NextStepSecurityReview,
		NextStepDeployment, NextStepDocumentation, NextStepArchitectureReview,
		NextStepImplementation, NextStepRequirementsAnalysis,
		NextStepHumanApproval, NextStepWorkflowComplete:
		return true
	default:
		return false
	}
}

// Agent returns the agent that handles this step, if any.
func (n NextStep) Agent() (Agent, bool) {
	a, ok := nextStepAgents[n]
	return a, ok
}

// NextStepFor returns the routing hint that hands work to the given agent.
// Agents with no dedicated step (QA_Guardian, Performance_Specialist) map to
// code review.
func NextStepFor(a Agent) NextStep {
	for step, agent := range nextStepAgents {
		if agent == a {
			return step
		}
	}
	return NextStepCodeReview
}

// UnmarshalJSON rejects values outside the closed step set.
func (n *NextStep) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("next step suggestion: %w", err)
	}
	v := NextStep(raw)
	if !v.Valid() {
		return fmt.Errorf("next step suggestion: unknown value %q", raw)
	}
	*n = v
	return nil
}

// HandoffPacket is the structured record one agent leaves for the next.
// Packets are append-only: once recorded in a session they are never changed.
type HandoffPacket struct {
	CompletedTaskID       string       `json:"completed_task_id"`
	AgentName             string       `json:"agent_name"`
	Status                PacketStatus `json:"status"`
	ArtifactsProduced     []string     `json:"artifacts_produced"`
	NextStepSuggestion    NextStep     `json:"next_step_suggestion"`
	Notes                 string       `json:"notes"`
	Timestamp             string       `json:"timestamp"`
	DependenciesSatisfied []string     `json:"dependencies_satisfied"`
	BlockingIssues        []string     `json:"blocking_issues"`
}

// Validate checks required fields and enum membership.
func (p *HandoffPacket) Validate() error {
	if p.CompletedTaskID == "" {
		return fmt.Errorf("completed_task_id is required")
	}
	if p.AgentName == "" {
		return fmt.Errorf("agent_name is required")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	if !p.NextStepSuggestion.Valid() {
		return fmt.Errorf("invalid next_step_suggestion %q", p.NextStepSuggestion)
	}
	return nil
}

// ToJSON encodes the packet in its wire format.
func (p *HandoffPacket) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PacketFromJSON decodes a packet and validates it.
func PacketFromJSON(data []byte) (*HandoffPacket, error) {
	var p HandoffPacket
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode handoff packet: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate handoff packet: %w", err)
	}
	return &p, nil
}

// Clone returns a deep copy of the packet.
func (p *HandoffPacket) Clone() *HandoffPacket {
	if p == nil {
		return nil
	}
	c := *p
	c.ArtifactsProduced = cloneStrings(p.ArtifactsProduced)
	c.DependenciesSatisfied = cloneStrings(p.DependenciesSatisfied)
	c.BlockingIssues = cloneStrings(p.BlockingIssues)
	return &c
}

// FormatTimestamp renders t in the packet timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
