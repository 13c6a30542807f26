// Package policy holds the data-driven tables that steer routing: keyword
// tables for request analysis and decision parsing, the router's per-agent
// rules and project profiles, and loop-guard thresholds.
//
// Every table is an ordered list evaluated top to bottom, so changing routing
// behaviour is a matter of editing a policy file rather than code.
package policy

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/baton/pkg/models"
)

// ErrInvalidPolicy is returned when a policy references unknown agents,
// project types, actions or conditions.
var ErrInvalidPolicy = errors.New("invalid policy")

// Config contains every routing table and threshold.
type Config struct {
	// FallbackAgent receives work whenever a decision cannot be routed.
	FallbackAgent models.Agent `yaml:"fallback_agent"`

	Analysis AnalysisPolicy `yaml:"analysis"`
	Decision DecisionPolicy `yaml:"decision"`
	Routing  RoutingPolicy  `yaml:"routing"`
	Loop     LoopPolicy     `yaml:"loop"`
	Progress ProgressPolicy `yaml:"progress"`
}

// AnalysisPolicy drives request classification.
type AnalysisPolicy struct {
	// ProjectTypes is evaluated in order; the first rule with a matching
	// keyword decides the project type.
	ProjectTypes []ProjectTypeRule `yaml:"project_types"`
	// Complexity is evaluated in order; no match means medium.
	Complexity []ComplexityRule `yaml:"complexity"`
	Flags      FlagKeywords     `yaml:"flags"`
}

// ProjectTypeRule maps keywords to a project type.
type ProjectTypeRule struct {
	Type     models.ProjectType `yaml:"type"`
	Keywords []string           `yaml:"keywords"`
}

// ComplexityRule maps keywords to a complexity level.
type ComplexityRule struct {
	Level    models.Complexity `yaml:"level"`
	Keywords []string          `yaml:"keywords"`
}

// FlagKeywords lists the keywords that raise each analysis flag.
type FlagKeywords struct {
	Security      []string `yaml:"security"`
	Performance   []string `yaml:"performance"`
	UserFacing    []string `yaml:"user_facing"`
	Testing       []string `yaml:"testing"`
	Documentation []string `yaml:"documentation"`
	Deployment    []string `yaml:"deployment"`
}

// DecisionPolicy drives decision parsing.
type DecisionPolicy struct {
	BaseConfidence    float64         `yaml:"base_confidence"`
	KeywordStep       float64         `yaml:"keyword_step"`
	PositiveKeywords  []string        `yaml:"positive_keywords"`
	NegativeKeywords  []string        `yaml:"negative_keywords"`
	Bonuses           []ActionBonus   `yaml:"bonuses"`
	ReasonWindow      int             `yaml:"reason_window"`
	MinReasonLength   int             `yaml:"min_reason_length"`
	Buckets           []KeywordBucket `yaml:"buckets"`
	DefaultConfidence float64         `yaml:"default_confidence"`
}

// ActionBonus adds Bonus to a tagged decision's confidence when Keyword
// appears in the response.
type ActionBonus struct {
	Action  models.Action `yaml:"action"`
	Keyword string        `yaml:"keyword"`
	Bonus   float64       `yaml:"bonus"`
}

// KeywordBucket is one fallback classification used when a response has no
// decision tag.
type KeywordBucket struct {
	Name       string        `yaml:"name"`
	Keywords   []string      `yaml:"keywords"`
	Action     models.Action `yaml:"action"`
	Target     models.Agent  `yaml:"target,omitempty"`
	Confidence float64       `yaml:"confidence"`
}

// RoutingPolicy drives the smart router.
type RoutingPolicy struct {
	DefaultMaxExecutions int              `yaml:"default_max_executions"`
	MinConfidence        float64          `yaml:"min_confidence"`
	Agents               []AgentRule      `yaml:"agents"`
	Projects             []ProjectProfile `yaml:"projects"`
	BranchTargets        []BranchRule     `yaml:"branch_targets"`
}

// AgentRule is the router's rule for one agent.
type AgentRule struct {
	Agent models.Agent `yaml:"agent"`
	// MaxExecutions caps how often the agent may run in one workflow.
	// Zero means RoutingPolicy.DefaultMaxExecutions.
	MaxExecutions int `yaml:"max_executions"`
	// MaxIteration is the last iteration the agent may run in. Zero means
	// no ceiling.
	MaxIteration int      `yaml:"max_iteration"`
	SkipIf       []string `yaml:"skip_if"`
	RequiredFor  []string `yaml:"required_for"`
}

// ProjectProfile adjusts routing for one project type.
type ProjectProfile struct {
	Type           models.ProjectType `yaml:"type"`
	SkipAgents     []models.Agent     `yaml:"skip_agents"`
	CriticalAgents []models.Agent     `yaml:"critical_agents"`
	OptionalAgents []models.Agent     `yaml:"optional_agents"`
}

// BranchRule maps BRANCH condition keywords to an agent.
type BranchRule struct {
	Keywords []string     `yaml:"keywords"`
	Agent    models.Agent `yaml:"agent"`
}

// LoopPolicy controls loop detection and breaking.
type LoopPolicy struct {
	// Window is the number of trailing history entries inspected.
	Window int `yaml:"window"`
	// RepeatThreshold flags a loop when the candidate occupies this many
	// slots of the window.
	RepeatThreshold int `yaml:"repeat_threshold"`
	// BreakWindow is how far back the breaker looks for recent agents.
	BreakWindow int `yaml:"break_window"`
	// SimpleHistoryLimit forces completion of simple projects whose history
	// grew beyond this length.
	SimpleHistoryLimit int            `yaml:"simple_history_limit"`
	EssentialAgents    []models.Agent `yaml:"essential_agents"`
}

// ProgressPolicy controls session completion accounting.
type ProgressPolicy struct {
	// CompletionStep is added to completion for every SUCCESS packet.
	CompletionStep float64 `yaml:"completion_step"`
}

// Rule returns the routing rule for agent, if one is configured.
func (r *RoutingPolicy) Rule(agent models.Agent) (AgentRule, bool) {
	for _, rule := range r.Agents {
		if rule.Agent == agent {
			return rule, true
		}
	}
	return AgentRule{}, false
}

// Profile returns the profile for a project type, if one is configured.
func (r *RoutingPolicy) Profile(pt models.ProjectType) (ProjectProfile, bool) {
	for _, p := range r.Projects {
		if p.Type == pt {
			return p, true
		}
	}
	return ProjectProfile{}, false
}

// MaxExecutions returns the execution cap for agent.
func (r *RoutingPolicy) MaxExecutions(agent models.Agent) int {
	if rule, ok := r.Rule(agent); ok && rule.MaxExecutions > 0 {
		return rule.MaxExecutions
	}
	return r.DefaultMaxExecutions
}

// Validate canonicalizes agent names and checks that every referenced
// agent, project type, action and condition exists. Zero thresholds are
// replaced by their defaults.
func (c *Config) Validate() error {
	d := Default()
	var errs []error

	canon := func(where string, a *models.Agent) {
		parsed, ok := models.ParseAgent(string(*a))
		if !ok {
			errs = append(errs, fmt.Errorf("%s: unknown agent %q", where, *a))
			return
		}
		*a = parsed
	}
	canonList := func(where string, list []models.Agent) {
		for i := range list {
			canon(where, &list[i])
		}
	}
	checkConditions := func(where string, names []string) {
		for _, n := range names {
			if _, ok := Conditions[n]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown condition %q", where, n))
			}
		}
	}

	if c.FallbackAgent == "" {
		c.FallbackAgent = d.FallbackAgent
	}
	canon("fallback_agent", &c.FallbackAgent)

	for _, r := range c.Analysis.ProjectTypes {
		if !r.Type.Valid() || r.Type == models.ProjectUnknown {
			errs = append(errs, fmt.Errorf("analysis.project_types: invalid type %q", r.Type))
		}
	}
	for _, r := range c.Analysis.Complexity {
		if !r.Level.Valid() {
			errs = append(errs, fmt.Errorf("analysis.complexity: invalid level %q", r.Level))
		}
	}

	if c.Decision.BaseConfidence <= 0 {
		c.Decision.BaseConfidence = d.Decision.BaseConfidence
	}
	if c.Decision.KeywordStep <= 0 {
		c.Decision.KeywordStep = d.Decision.KeywordStep
	}
	if c.Decision.ReasonWindow <= 0 {
		c.Decision.ReasonWindow = d.Decision.ReasonWindow
	}
	if c.Decision.MinReasonLength <= 0 {
		c.Decision.MinReasonLength = d.Decision.MinReasonLength
	}
	if c.Decision.DefaultConfidence <= 0 {
		c.Decision.DefaultConfidence = d.Decision.DefaultConfidence
	}
	for _, b := range c.Decision.Bonuses {
		if !b.Action.Valid() {
			errs = append(errs, fmt.Errorf("decision.bonuses: invalid action %q", b.Action))
		}
	}
	for i := range c.Decision.Buckets {
		b := &c.Decision.Buckets[i]
		if !b.Action.Valid() || b.Action == models.ActionParallel || b.Action == models.ActionBranch {
			errs = append(errs, fmt.Errorf("decision.buckets[%s]: invalid action %q", b.Name, b.Action))
			continue
		}
		if b.Action == models.ActionNextAgent {
			canon("decision.buckets["+b.Name+"]", &b.Target)
		}
	}

	if c.Routing.DefaultMaxExecutions < 1 {
		c.Routing.DefaultMaxExecutions = d.Routing.DefaultMaxExecutions
	}
	if c.Routing.MinConfidence <= 0 {
		c.Routing.MinConfidence = d.Routing.MinConfidence
	}
	for i := range c.Routing.Agents {
		rule := &c.Routing.Agents[i]
		canon("routing.agents", &rule.Agent)
		checkConditions("routing.agents["+string(rule.Agent)+"].skip_if", rule.SkipIf)
		checkConditions("routing.agents["+string(rule.Agent)+"].required_for", rule.RequiredFor)
	}
	for i := range c.Routing.Projects {
		p := &c.Routing.Projects[i]
		if !p.Type.Valid() {
			errs = append(errs, fmt.Errorf("routing.projects: invalid type %q", p.Type))
		}
		canonList("routing.projects["+string(p.Type)+"]", p.SkipAgents)
		canonList("routing.projects["+string(p.Type)+"]", p.CriticalAgents)
		canonList("routing.projects["+string(p.Type)+"]", p.OptionalAgents)
	}
	for i := range c.Routing.BranchTargets {
		canon("routing.branch_targets", &c.Routing.BranchTargets[i].Agent)
	}

	if c.Loop.Window < 2 {
		c.Loop.Window = d.Loop.Window
	}
	if c.Loop.RepeatThreshold < 2 {
		c.Loop.RepeatThreshold = d.Loop.RepeatThreshold
	}
	if c.Loop.BreakWindow < 1 {
		c.Loop.BreakWindow = d.Loop.BreakWindow
	}
	if c.Loop.SimpleHistoryLimit < 1 {
		c.Loop.SimpleHistoryLimit = d.Loop.SimpleHistoryLimit
	}
	canonList("loop.essential_agents", c.Loop.EssentialAgents)

	if c.Progress.CompletionStep <= 0 || c.Progress.CompletionStep > 100 {
		c.Progress.CompletionStep = d.Progress.CompletionStep
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
	}
	return nil
}
