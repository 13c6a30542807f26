package llm

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/baton/pkg/models"
)

// roles is the one-line persona each agent plays.
var roles = map[models.Agent]string{
	models.AgentProductAnalyst:        "You are the Product Analyst. Turn the request into clear requirements and acceptance criteria.",
	models.AgentArchitect:             "You are the Architect. Design the structure, components and interfaces of the solution.",
	models.AgentCoder:                 "You are the Coder. Implement the solution with working, idiomatic code.",
	models.AgentCodeReviewer:          "You are the Code Reviewer. Review the latest changes for correctness and maintainability.",
	models.AgentQAGuardian:            "You are the QA Guardian. Judge whether the work meets its acceptance criteria.",
	models.AgentTester:                "You are the Tester. Write and run tests that exercise the behaviour.",
	models.AgentSecuritySpecialist:    "You are the Security Specialist. Find and fix security weaknesses.",
	models.AgentDevOpsSpecialist:      "You are the DevOps Specialist. Prepare build, deployment and infrastructure.",
	models.AgentTechnicalWriter:       "You are the Technical Writer. Produce the documentation users need.",
	models.AgentPerformanceSpecialist: "You are the Performance Specialist. Measure and remove bottlenecks.",
}

// SystemPrompt returns the system prompt for agent.
func SystemPrompt(agent models.Agent) string {
	if role, ok := roles[agent]; ok {
		return role
	}
	return fmt.Sprintf("You are %s, one agent in a multi-agent software team.", agent)
}

const decisionInstructions = `When you finish, end your reply with exactly one decision tag:
[COMPLETE] if the whole request is done
[NEXT_AGENT: <name>] to hand off to another agent
[PARALLEL: <name1>, <name2>] to hand off to several agents at once
[BRANCH: <condition>] to route on a condition
[RETRY] to try your own step again
[HUMAN_REVIEW] if a person must decide

Agents: %s

Also include a HANDOFF_PACKET: block with a JSON object containing
completed_task_id, agent_name, status (SUCCESS|FAILURE|PENDING|BLOCKED),
artifacts_produced, next_step_suggestion, notes and timestamp.`

// PromptInput is everything BuildPrompt renders.
type PromptInput struct {
	Agent     models.Agent
	Request   string
	Iteration int
	Analysis  *models.ContextAnalysis
	// Packets are the most recent handoffs, oldest first.
	Packets []*models.HandoffPacket
	// Note is extra guidance for this step, such as a resume notice.
	Note string
}

// maxPromptPackets caps how many prior handoffs are rendered.
const maxPromptPackets = 5

// BuildPrompt formats the user prompt for one agent step.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Request\n%s\n\n", strings.TrimSpace(in.Request))
	fmt.Fprintf(&b, "## Step\nYou are %s, iteration %d.\n\n", in.Agent, in.Iteration)

	if a := in.Analysis; a != nil {
		fmt.Fprintf(&b, "## Project\ntype: %s, complexity: %s", a.ProjectType, a.ComplexityLevel)
		var flags []string
		for _, f := range []struct {
			on   bool
			name string
		}{
			{a.SecurityRequirements, "security"},
			{a.PerformanceCritical, "performance"},
			{a.UserFacing, "user-facing"},
			{a.TestingRequired, "testing"},
			{a.DocumentationNeeded, "documentation"},
			{a.DeploymentReady, "deployment"},
		} {
			if f.on {
				flags = append(flags, f.name)
			}
		}
		if len(flags) > 0 {
			fmt.Fprintf(&b, ", needs: %s", strings.Join(flags, ", "))
		}
		b.WriteString("\n\n")
	}

	packets := in.Packets
	if len(packets) > maxPromptPackets {
		packets = packets[len(packets)-maxPromptPackets:]
	}
	if len(packets) > 0 {
		b.WriteString("## Previous handoffs\n")
		for _, p := range packets {
			fmt.Fprintf(&b, "- %s (%s, %s): %s", p.AgentName, p.CompletedTaskID, p.Status, p.Notes)
			if len(p.ArtifactsProduced) > 0 {
				fmt.Fprintf(&b, " [artifacts: %s]", strings.Join(p.ArtifactsProduced, ", "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if in.Note != "" {
		fmt.Fprintf(&b, "## Note\n%s\n\n", in.Note)
	}

	names := make([]string, len(models.Roster))
	for i, a := range models.Roster {
		names[i] = string(a)
	}
	fmt.Fprintf(&b, decisionInstructions, strings.Join(names, ", "))
	return b.String()
}
