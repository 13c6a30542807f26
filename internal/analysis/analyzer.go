// Package analysis classifies free-text user requests into the coarse
// categories that drive routing.
package analysis

import (
	"strings"
	"unicode"

	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/pkg/models"
)

// Hint keys that override keyword inference when set to a valid value.
const (
	HintProjectType = "project_type"
	HintComplexity  = "complexity"
)

// Analyzer classifies requests using the analysis tables of the active
// policy. It holds no state between calls.
type Analyzer struct {
	policy policy.Provider
}

// New creates an analyzer. A nil provider means the default policy.
func New(p policy.Provider) *Analyzer {
	if p == nil {
		p = policy.NewStatic(nil)
	}
	return &Analyzer{policy: p}
}

// Analyze classifies request. wctx may be nil; when it carries valid
// project_type or complexity hints they take precedence over keywords.
func (a *Analyzer) Analyze(request string, wctx *models.WorkflowContext) models.ContextAnalysis {
	tables := a.policy.Current().Analysis
	text := normalize(request)

	out := models.ContextAnalysis{
		ProjectType:     classifyProjectType(text, tables.ProjectTypes),
		ComplexityLevel: classifyComplexity(text, tables.Complexity),
	}
	if pt := models.ProjectType(wctx.Hint(HintProjectType)); pt != "" && pt.Valid() {
		out.ProjectType = pt
	}
	if c := models.Complexity(wctx.Hint(HintComplexity)); c != "" && c.Valid() {
		out.ComplexityLevel = c
	}

	out.SecurityRequirements = containsAny(text, tables.Flags.Security) ||
		out.ProjectType == models.ProjectSecurityCritical
	out.PerformanceCritical = containsAny(text, tables.Flags.Performance)
	out.UserFacing = containsAny(text, tables.Flags.UserFacing) ||
		out.ProjectType == models.ProjectWebApplication
	out.TestingRequired = containsAny(text, tables.Flags.Testing) ||
		out.ComplexityLevel != models.ComplexitySimple
	out.DocumentationNeeded = containsAny(text, tables.Flags.Documentation) ||
		out.ComplexityLevel == models.ComplexityComplex
	out.DeploymentReady = containsAny(text, tables.Flags.Deployment)
	return out
}

// normalize lowercases request, turns punctuation into spaces and pads the
// result so that space-delimited keywords such as " api " match whole words,
// including at the edges. Hyphens and slashes survive for keywords like
// "real-time" and "ci/cd".
func normalize(request string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '/':
			return unicode.ToLower(r)
		}
		return ' '
	}, request)
	return " " + mapped + " "
}

func classifyProjectType(lower string, rules []policy.ProjectTypeRule) models.ProjectType {
	for _, r := range rules {
		if _, ok := firstMatch(lower, r.Keywords); ok {
			return r.Type
		}
	}
	return models.ProjectUnknown
}

func classifyComplexity(lower string, rules []policy.ComplexityRule) models.Complexity {
	for _, r := range rules {
		if _, ok := firstMatch(lower, r.Keywords); ok {
			return r.Level
		}
	}
	return models.ComplexityMedium
}

func firstMatch(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

func containsAny(lower string, keywords []string) bool {
	_, ok := firstMatch(lower, keywords)
	return ok
}
