package policy

import "github.com/ShayCichocki/baton/pkg/models"

// Condition is a named predicate over a request analysis, referenced by
// skip_if and required_for lists.
type Condition func(models.ContextAnalysis) bool

// Conditions is the closed set of predicates a policy may reference.
var Conditions = map[string]Condition{
	"always":                func(models.ContextAnalysis) bool { return true },
	"backend_only":          func(a models.ContextAnalysis) bool { return !a.UserFacing },
	"user_facing":           func(a models.ContextAnalysis) bool { return a.UserFacing },
	"security_requirements": func(a models.ContextAnalysis) bool { return a.SecurityRequirements },
	"no_security":           func(a models.ContextAnalysis) bool { return !a.SecurityRequirements },
	"performance_critical":  func(a models.ContextAnalysis) bool { return a.PerformanceCritical },
	"not_performance":       func(a models.ContextAnalysis) bool { return !a.PerformanceCritical },
	"testing_required":      func(a models.ContextAnalysis) bool { return a.TestingRequired },
	"no_tests":              func(a models.ContextAnalysis) bool { return !a.TestingRequired },
	"documentation_needed":  func(a models.ContextAnalysis) bool { return a.DocumentationNeeded },
	"no_docs":               func(a models.ContextAnalysis) bool { return !a.DocumentationNeeded },
	"deployment_ready":      func(a models.ContextAnalysis) bool { return a.DeploymentReady },
	"not_deployment":        func(a models.ContextAnalysis) bool { return !a.DeploymentReady },
	"simple_project":        func(a models.ContextAnalysis) bool { return a.ComplexityLevel == models.ComplexitySimple },
	"complex_project":       func(a models.ContextAnalysis) bool { return a.ComplexityLevel == models.ComplexityComplex },
	"medium_or_complex": func(a models.ContextAnalysis) bool {
		return a.ComplexityLevel == models.ComplexityMedium || a.ComplexityLevel == models.ComplexityComplex
	},
}

// Evaluate reports whether the named condition holds. Unknown names never
// hold; Validate rejects them before a policy becomes active.
func Evaluate(name string, a models.ContextAnalysis) bool {
	cond, ok := Conditions[name]
	if !ok {
		return false
	}
	return cond(a)
}

// FirstTrue returns the first condition in names that holds for a.
func FirstTrue(names []string, a models.ContextAnalysis) (string, bool) {
	for _, n := range names {
		if Evaluate(n, a) {
			return n, true
		}
	}
	return "", false
}
