package routing

import (
	"testing"

	"github.com/ShayCichocki/baton/internal/analysis"
	"github.com/ShayCichocki/baton/pkg/models"
)

func historyOf(agents ...models.Agent) *models.WorkflowContext {
	wctx := &models.WorkflowContext{}
	for i, a := range agents {
		wctx.Record(models.ExecutionRecord{Iteration: i + 1, Agent: a, Status: models.ExecutionExecuted})
	}
	wctx.Iteration = len(agents) + 1
	return wctx
}

func TestShouldSkipExecutionCap(t *testing.T) {
	r := NewRouter(nil)
	medium := models.ContextAnalysis{ProjectType: models.ProjectWebApplication, ComplexityLevel: models.ComplexityMedium, TestingRequired: true}

	tests := []struct {
		agent models.Agent
		runs  int
		want  bool
	}{
		{models.AgentCoder, 4, false},
		{models.AgentCoder, 5, true},
		{models.AgentCodeReviewer, 2, false},
		{models.AgentCodeReviewer, 3, true},
		{models.AgentQAGuardian, 3, true},
	}
	for _, tt := range tests {
		agents := make([]models.Agent, tt.runs)
		for i := range agents {
			agents[i] = tt.agent
		}
		wctx := historyOf(agents...)
		wctx.Iteration = 1
		got, reason := r.ShouldSkip(tt.agent, medium, wctx)
		if got != tt.want {
			t.Errorf("ShouldSkip(%s after %d runs) = %v (%s), want %v", tt.agent, tt.runs, got, reason, tt.want)
		}
	}
}

func TestShouldSkipIgnoresSkippedRecords(t *testing.T) {
	wctx := &models.WorkflowContext{Iteration: 1}
	for i := 0; i < 5; i++ {
		wctx.Record(models.ExecutionRecord{Agent: models.AgentCoder, Status: models.ExecutionSkipped})
	}
	if skip, _ := NewRouter(nil).ShouldSkip(models.AgentCoder, models.ContextAnalysis{}, wctx); skip {
		t.Error("skipped records should not count toward the execution cap")
	}
}

func TestShouldSkipIterationCeiling(t *testing.T) {
	r := NewRouter(nil)
	a := models.ContextAnalysis{ProjectType: models.ProjectEnterpriseSystem, ComplexityLevel: models.ComplexityComplex}
	wctx := &models.WorkflowContext{Iteration: 3}
	if skip, _ := r.ShouldSkip(models.AgentProductAnalyst, a, wctx); skip {
		t.Error("Product_Analyst should run at iteration 3")
	}
	wctx.Iteration = 4
	if skip, _ := r.ShouldSkip(models.AgentProductAnalyst, a, wctx); !skip {
		t.Error("Product_Analyst should be skipped after iteration 3")
	}
}

func TestShouldSkipProfileAndConditions(t *testing.T) {
	r := NewRouter(nil)
	calc := analysis.New(nil).Analyze("Create a simple calculator with basic operations", nil)
	wctx := &models.WorkflowContext{Iteration: 1}

	for _, agent := range []models.Agent{
		models.AgentArchitect,
		models.AgentDevOpsSpecialist,
		models.AgentSecuritySpecialist,
		models.AgentTester,
	} {
		if skip, _ := r.ShouldSkip(agent, calc, wctx); !skip {
			t.Errorf("ShouldSkip(%s) = false for simple calculator", agent)
		}
	}
	for _, agent := range []models.Agent{models.AgentCoder, models.AgentQAGuardian} {
		if skip, reason := r.ShouldSkip(agent, calc, wctx); skip {
			t.Errorf("ShouldSkip(%s) = true (%s), want false", agent, reason)
		}
	}
}

func TestRecommendOrdering(t *testing.T) {
	r := NewRouter(nil)
	a := models.ContextAnalysis{
		ProjectType:          models.ProjectSecurityCritical,
		ComplexityLevel:      models.ComplexityMedium,
		SecurityRequirements: true,
		TestingRequired:      true,
	}
	recs := r.Recommend(a, models.AgentCoder, &models.WorkflowContext{Iteration: 2})

	if len(recs) != len(models.Roster)-1 {
		t.Fatalf("len(recs) = %d, want %d", len(recs), len(models.Roster)-1)
	}
	for _, rec := range recs {
		if rec.Agent == models.AgentCoder {
			t.Fatal("current agent must not be recommended")
		}
	}
	if recs[0].Agent != models.AgentSecuritySpecialist || recs[0].Priority != PriorityCritical {
		t.Errorf("top = %+v, want critical Security_Specialist", recs[0])
	}
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		if prev.Priority > cur.Priority ||
			(prev.Priority == cur.Priority && prev.Confidence < cur.Confidence) {
			t.Errorf("recs not sorted at %d: %+v before %+v", i, prev, cur)
		}
	}
	if last := recs[len(recs)-1]; last.Priority != PrioritySkip {
		t.Errorf("last = %+v, want a skipped agent", last)
	}
}

func TestNextRecommendation(t *testing.T) {
	r := NewRouter(nil)
	calc := analysis.New(nil).Analyze("Create a simple calculator with basic operations", nil)

	rec, ok := r.NextRecommendation(calc, models.AgentCoder, &models.WorkflowContext{Iteration: 2})
	if !ok {
		t.Fatal("NextRecommendation() ok = false")
	}
	if rec.Priority == PrioritySkip || rec.Confidence < 0.2 {
		t.Errorf("NextRecommendation() = %+v", rec)
	}

	// Every agent exhausted: nothing qualifies.
	var all []models.Agent
	for _, a := range models.Roster {
		for i := 0; i < 5; i++ {
			all = append(all, a)
		}
	}
	if rec, ok := r.NextRecommendation(calc, models.AgentCoder, historyOf(all...)); ok {
		t.Errorf("NextRecommendation() = %+v, want none", rec)
	}
}

func TestBranchTarget(t *testing.T) {
	r := NewRouter(nil)
	tests := []struct {
		condition string
		want      models.Agent
	}{
		{"if security issues found", models.AgentSecuritySpecialist},
		{"when tests fail", models.AgentTester},
		{"deploy to staging", models.AgentDevOpsSpecialist},
		{"update the docs", models.AgentTechnicalWriter},
		{"needs another review", models.AgentCodeReviewer},
		{"it is too slow", models.AgentPerformanceSpecialist},
		{"rethink the design", models.AgentArchitect},
		{"clarify requirements", models.AgentProductAnalyst},
		{"fix the bug", models.AgentCoder},
		{"something else entirely", models.AgentCoder},
	}
	for _, tt := range tests {
		if got := r.BranchTarget(tt.condition); got != tt.want {
			t.Errorf("BranchTarget(%q) = %s, want %s", tt.condition, got, tt.want)
		}
	}
}

func TestPriorityString(t *testing.T) {
	if PriorityCritical.String() != "CRITICAL" || PrioritySkip.String() != "SKIP" {
		t.Error("unexpected priority names")
	}
}
