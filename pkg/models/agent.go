package models

import "strings"

// Agent identifies one of the named LLM roles the orchestrator can invoke.
type Agent string

const (
	// AgentProductAnalyst turns a request into requirements and user stories.
	AgentProductAnalyst Agent = "Product_Analyst"
	// AgentArchitect designs the system structure.
	AgentArchitect Agent = "Architect"
	// AgentCoder implements the solution.
	AgentCoder Agent = "Coder"
	// AgentCodeReviewer reviews code changes.
	AgentCodeReviewer Agent = "Code_Reviewer"
	// AgentQAGuardian validates overall quality before completion.
	AgentQAGuardian Agent = "QA_Guardian"
	// AgentTester writes and runs tests.
	AgentTester Agent = "Tester"
	// AgentSecuritySpecialist audits security concerns.
	AgentSecuritySpecialist Agent = "Security_Specialist"
	// AgentDevOpsSpecialist handles build, deployment and infrastructure.
	AgentDevOpsSpecialist Agent = "DevOps_Specialist"
	// AgentTechnicalWriter produces documentation.
	AgentTechnicalWriter Agent = "Technical_Writer"
	// AgentPerformanceSpecialist profiles and optimizes hot paths.
	AgentPerformanceSpecialist Agent = "Performance_Specialist"

	// AgentUnknown is returned when a name does not match the roster.
	AgentUnknown Agent = ""
)

// Roster lists every known agent in a stable order.
var Roster = []Agent{
	AgentProductAnalyst,
	AgentArchitect,
	AgentCoder,
	AgentCodeReviewer,
	AgentQAGuardian,
	AgentTester,
	AgentSecuritySpecialist,
	AgentDevOpsSpecialist,
	AgentTechnicalWriter,
	AgentPerformanceSpecialist,
}

// Valid returns true if the agent is a member of the roster.
func (a Agent) Valid() bool {
	switch a {
	case AgentProductAnalyst, AgentArchitect, AgentCoder, AgentCodeReviewer,
		AgentQAGuardian, AgentTester, AgentSecuritySpecialist,
		AgentDevOpsSpecialist, AgentTechnicalWriter, AgentPerformanceSpecialist:
		return true
	default:
		return false
	}
}

// String returns the agent name.
func (a Agent) String() string {
	if a == AgentUnknown {
		return "unknown"
	}
	return string(a)
}

// ParseAgent resolves a free-text agent name to a roster member.
// Matching ignores case and treats spaces and hyphens as underscores, so
// "qa guardian" and "QA-Guardian" both resolve to QA_Guardian.
// The second return value is false when the name is not on the roster.
func ParseAgent(name string) (Agent, bool) {
	key := normalizeAgentName(name)
	if key == "" {
		return AgentUnknown, false
	}
	for _, a := range Roster {
		if normalizeAgentName(string(a)) == key {
			return a, true
		}
	}
	return AgentUnknown, false
}

// AgentOrRaw is like ParseAgent but returns the trimmed raw name as an
// Agent when it is not on the roster, so callers can still report it.
func AgentOrRaw(name string) Agent {
	if a, ok := ParseAgent(name); ok {
		return a
	}
	return Agent(strings.TrimSpace(name))
}

func normalizeAgentName(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	s = strings.Trim(s, "\"'`*")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
