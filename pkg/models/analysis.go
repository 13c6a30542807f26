package models

// ProjectType is the coarse category inferred from a user request.
type ProjectType string

const (
	ProjectSimpleScript     ProjectType = "simple_script"
	ProjectWebApplication   ProjectType = "web_application"
	ProjectSecurityCritical ProjectType = "security_critical"
	ProjectEnterpriseSystem ProjectType = "enterprise_system"
	ProjectDataProcessing   ProjectType = "data_processing"
	ProjectCLITool          ProjectType = "cli_tool"
	ProjectUnknown          ProjectType = "unknown"
)

// Valid returns true if the project type is a known value.
func (p ProjectType) Valid() bool {
	switch p {
	case ProjectSimpleScript, ProjectWebApplication, ProjectSecurityCritical,
		ProjectEnterpriseSystem, ProjectDataProcessing, ProjectCLITool, ProjectUnknown:
		return true
	default:
		return false
	}
}

// Complexity is the coarse size estimate of a request.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return true
	default:
		return false
	}
}

// ContextAnalysis classifies one user request. It is derived per request and
// never mutated afterwards.
type ContextAnalysis struct {
	ProjectType          ProjectType `json:"project_type"`
	ComplexityLevel      Complexity  `json:"complexity_level"`
	SecurityRequirements bool        `json:"security_requirements"`
	PerformanceCritical  bool        `json:"performance_critical"`
	UserFacing           bool        `json:"user_facing"`
	TestingRequired      bool        `json:"testing_required"`
	DocumentationNeeded  bool        `json:"documentation_needed"`
	DeploymentReady      bool        `json:"deployment_ready"`
}
