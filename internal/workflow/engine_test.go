package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/baton/internal/llm"
	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

const calculator = "Create a simple calculator with basic operations"

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.OpenStore(t.TempDir(), state.DriverSQLite, state.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func historyAgents(res *Result) []models.Agent {
	out := make([]models.Agent, len(res.History))
	for i, rec := range res.History {
		out[i] = rec.Agent
	}
	return out
}

func TestRun_SimpleCalculatorCompletes(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().
		On(models.AgentCoder, "Implemented add, subtract, multiply and divide. [NEXT_AGENT: QA_Guardian]").
		On(models.AgentQAGuardian, "All operations behave correctly. [COMPLETE]")
	rec := &recorder{}
	engine := New(caller, nil, WithStore(store), WithObserver(rec))

	res, err := engine.Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.LessOrEqual(t, res.Iterations, 5)
	assert.Equal(t, []models.Agent{models.AgentCoder, models.AgentQAGuardian}, historyAgents(res))
	assert.Equal(t, models.AgentQAGuardian, res.LastAgent)
	assert.Equal(t, models.ProjectSimpleScript, res.Analysis.ProjectType)
	assert.Equal(t, models.ComplexitySimple, res.Analysis.ComplexityLevel)

	sess, ok := store.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionCompleted, sess.State)
	assert.Equal(t, 100.0, sess.CompletionPercentage)
	assert.Equal(t, calculator, sess.Metadata[MetaRequest])
	assert.Len(t, sess.HandoffPackets, 2)

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunFinished, types[len(types)-1])
}

func TestRun_DefaultStartAgentFollowsRouter(t *testing.T) {
	caller := llm.NewScripted().On(models.AgentCoder, "Done. [COMPLETE]")
	res, err := New(caller, nil).Run(context.Background(), calculator, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []models.Agent{models.AgentCoder}, caller.Agents())
	assert.Empty(t, res.SessionID)
}

func TestRun_CallFailureEndsInError(t *testing.T) {
	store := newTestStore(t)
	boom := errors.New("model unavailable")
	caller := llm.CallerFunc(func(context.Context, models.Agent, string, map[string]string) (string, error) {
		return "", boom
	})

	res, err := New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateError, res.State)
	assert.ErrorIs(t, res.Err, boom)
	assert.Equal(t, 1, res.Iterations)
	require.Len(t, res.History, 1)
	assert.Equal(t, models.ExecutionError, res.History[0].Status)
	assert.Equal(t, "model unavailable", res.History[0].Error)

	sess, ok := store.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionFailed, sess.State)
	assert.Equal(t, models.PacketFailure, sess.LastPacket().Status)
}

func TestRun_PanickingCallerEndsInError(t *testing.T) {
	store := newTestStore(t)
	caller := llm.CallerFunc(func(context.Context, models.Agent, string, map[string]string) (string, error) {
		panic("backend blew up")
	})

	var res *Result
	require.NotPanics(t, func() {
		var err error
		res, err = New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
		require.NoError(t, err)
	})

	assert.Equal(t, StateError, res.State)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "backend blew up")
	require.Len(t, res.History, 1)
	assert.Equal(t, models.ExecutionError, res.History[0].Status)

	sess, ok := store.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionFailed, sess.State)
	assert.Equal(t, models.PacketFailure, sess.LastPacket().Status)
}

func TestRun_ParallelPanicEndsInError(t *testing.T) {
	caller := llm.CallerFunc(func(_ context.Context, agent models.Agent, _ string, _ map[string]string) (string, error) {
		switch agent {
		case models.AgentCoder:
			return "[PARALLEL: Code_Reviewer, QA_Guardian]", nil
		case models.AgentQAGuardian:
			panic("qa crashed")
		}
		return "[NEXT_AGENT: Coder]", nil
	})

	var res *Result
	require.NotPanics(t, func() {
		res, _ = New(caller, nil).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	})
	assert.Equal(t, StateError, res.State)
	require.Len(t, res.History, 3)
	assert.Equal(t, models.ExecutionExecuted, res.History[1].Status)
	assert.Equal(t, models.ExecutionError, res.History[2].Status)
	assert.Contains(t, res.History[2].Error, "qa crashed")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	caller := llm.NewScripted("[COMPLETE]")

	res, err := New(caller, nil).Run(ctx, calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	assert.Equal(t, StateError, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, caller.Calls())
}

func TestRun_MaxIterationsPausesSession(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted()
	caller.Fallback = "Still working on it. [RETRY]"

	res, err := New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{
		StartAgent:    models.AgentCoder,
		MaxIterations: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, StateMaxIterations, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Len(t, caller.Calls(), 3)

	sess, ok := store.Session(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionPaused, sess.State)
	assert.Contains(t, store.ListResumable(), res.SessionID)
}

func TestRun_DefaultIterationCap(t *testing.T) {
	cfg := policy.Default()
	for i := range cfg.Routing.Agents {
		if cfg.Routing.Agents[i].Agent == models.AgentCoder {
			cfg.Routing.Agents[i].MaxExecutions = 100
		}
	}
	caller := llm.NewScripted()
	caller.Fallback = "[RETRY]"

	res, err := New(caller, policy.NewStatic(cfg)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	assert.Equal(t, StateMaxIterations, res.State)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Len(t, caller.Calls(), DefaultMaxIterations)
}

func TestRun_HumanReviewPauses(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().On(models.AgentCoder, "I need a product decision first. [HUMAN_REVIEW]")

	res, err := New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateNeedsHumanReview, res.State)
	sess, _ := store.Session(res.SessionID)
	assert.Equal(t, models.SessionPaused, sess.State)
}

func TestRun_SkippedAgentHandsOff(t *testing.T) {
	caller := llm.NewScripted().On(models.AgentCoder, "Done. [COMPLETE]")
	rec := &recorder{}

	res, err := New(caller, nil, WithObserver(rec)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentArchitect})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []models.Agent{models.AgentCoder}, caller.Agents())
	require.Len(t, res.History, 2)
	skipped := res.History[0]
	assert.Equal(t, models.AgentArchitect, skipped.Agent)
	assert.Equal(t, models.ExecutionSkipped, skipped.Status)
	require.NotNil(t, skipped.Decision)
	assert.Equal(t, models.ActionNextAgent, skipped.Decision.Action)
	assert.Equal(t, models.AgentCoder, skipped.Decision.Target)
	assert.Equal(t, 0.8, skipped.Decision.Confidence)
	assert.Contains(t, rec.types(), EventAgentSkipped)
}

func TestRun_InvalidTargetUsesFallback(t *testing.T) {
	caller := llm.NewScripted().On(models.AgentCoder,
		"Handing over. [NEXT_AGENT: Wizard]",
		"Finished. [COMPLETE]")

	res, err := New(caller, nil).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []models.Agent{models.AgentCoder, models.AgentCoder}, caller.Agents())
}

func TestRun_UnknownActionUsesFallback(t *testing.T) {
	caller := llm.NewScripted().
		On(models.AgentCodeReviewer, "Reviewed. [RETRY]").
		On(models.AgentCoder, "[COMPLETE]")
	engine := New(caller, nil)
	r := engine.newRun(calculator, nil, 0)
	r.current = models.AgentCodeReviewer

	engine.dispatch(context.Background(), r, models.AgentCodeReviewer, models.AgentDecision{Action: "DANCE"})
	assert.Equal(t, models.AgentCoder, r.current)
	assert.Equal(t, StateRunning, r.result.State)
}

func TestRun_BranchRoutesByCondition(t *testing.T) {
	caller := llm.NewScripted().
		On(models.AgentCoder, "Implementation done. [BRANCH: ready for code review]").
		On(models.AgentCodeReviewer, "Looks good. [COMPLETE]")

	res, err := New(caller, nil).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []models.Agent{models.AgentCoder, models.AgentCodeReviewer}, caller.Agents())
}

func TestRun_ParallelCompletes(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().
		On(models.AgentCoder, "Split the checks. [PARALLEL: Code_Reviewer, QA_Guardian]").
		On(models.AgentCodeReviewer, "Style is fine. [NEXT_AGENT: Coder]").
		On(models.AgentQAGuardian, "Everything passes. [COMPLETE]")

	res, err := New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []models.Agent{models.AgentCoder, models.AgentCodeReviewer, models.AgentQAGuardian}, historyAgents(res))

	sess, _ := store.Session(res.SessionID)
	require.GreaterOrEqual(t, len(sess.HandoffPackets), 3)
	assert.Equal(t, "Code_Reviewer", sess.HandoffPackets[1].AgentName)
	assert.Equal(t, "QA_Guardian", sess.HandoffPackets[2].AgentName)
	assert.Equal(t, models.SessionCompleted, sess.State)
}

func TestRun_ParallelFailure(t *testing.T) {
	caller := llm.CallerFunc(func(_ context.Context, agent models.Agent, _ string, _ map[string]string) (string, error) {
		switch agent {
		case models.AgentCoder:
			return "[PARALLEL: Code_Reviewer, QA_Guardian]", nil
		case models.AgentQAGuardian:
			return "", errors.New("qa timed out")
		}
		return "[NEXT_AGENT: Coder]", nil
	})

	res, err := New(caller, nil).Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	assert.Equal(t, StateError, res.State)
	require.Len(t, res.History, 3)
	assert.Equal(t, models.ExecutionExecuted, res.History[1].Status)
	assert.Equal(t, models.ExecutionError, res.History[2].Status)
}

func TestAggregate(t *testing.T) {
	next := func(target models.Agent, conf float64) outcome {
		return outcome{decision: models.NextAgentDecision(target, "", conf)}
	}
	act := func(a models.Action) outcome {
		return outcome{decision: models.AgentDecision{Action: a, Confidence: 0.5}}
	}

	tests := []struct {
		name   string
		outs   []outcome
		want   int
		wantOK bool
	}{
		{"highest confidence next agent", []outcome{next(models.AgentTester, 0.5), next(models.AgentCoder, 0.9)}, 1, true},
		{"tie keeps first", []outcome{next(models.AgentTester, 0.7), next(models.AgentCoder, 0.7)}, 0, true},
		{"complete beats next agent", []outcome{next(models.AgentTester, 0.9), act(models.ActionComplete)}, 1, true},
		{"human review beats complete", []outcome{act(models.ActionComplete), act(models.ActionHumanReview)}, 1, true},
		{"invalid targets ignored", []outcome{next("Wizard", 0.9), act(models.ActionRetry)}, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := aggregate(tt.outs)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("aggregate() = %d, %v; want %d, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func loopPolicy(essentials ...models.Agent) policy.Provider {
	cfg := policy.Default()
	cfg.Loop.EssentialAgents = essentials
	return policy.NewStatic(cfg)
}

func TestRun_LoopIsBroken(t *testing.T) {
	caller := llm.NewScripted().
		On(models.AgentCoder, "[NEXT_AGENT: Code_Reviewer]", "[NEXT_AGENT: Code_Reviewer]").
		On(models.AgentCodeReviewer, "[NEXT_AGENT: Coder]", "[NEXT_AGENT: Coder]").
		On(models.AgentQAGuardian, "[COMPLETE]")
	rec := &recorder{}

	res, err := New(caller, loopPolicy(models.AgentQAGuardian), WithObserver(rec)).
		Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []models.Agent{
		models.AgentCoder, models.AgentCodeReviewer,
		models.AgentCoder, models.AgentCodeReviewer,
		models.AgentQAGuardian,
	}, caller.Agents())
	assert.Contains(t, rec.types(), EventLoopDetected)
	assert.Contains(t, rec.types(), EventLoopBroken)
}

func TestRun_UnbreakableLoopCompletes(t *testing.T) {
	caller := llm.NewScripted().
		On(models.AgentCoder, "[NEXT_AGENT: Code_Reviewer]", "[NEXT_AGENT: Code_Reviewer]").
		On(models.AgentCodeReviewer, "[NEXT_AGENT: Coder]", "[NEXT_AGENT: Coder]")

	res, err := New(caller, loopPolicy(models.AgentCoder, models.AgentCodeReviewer)).
		Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 4, res.Iterations)
	assert.Contains(t, res.Reason, "loop")
}

func TestResume_ContinuesFromCheckpoint(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().
		On(models.AgentCoder, "Implemented. [NEXT_AGENT: QA_Guardian]").
		On(models.AgentQAGuardian, "Needs a product call on rounding. [HUMAN_REVIEW]", "Rounding settled. [COMPLETE]")
	engine := New(caller, nil, WithStore(store))

	first, err := engine.Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)
	require.Equal(t, StateNeedsHumanReview, first.State)

	res, ok, err := engine.Resume(context.Background(), first.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, first.SessionID, res.SessionID)
	assert.Equal(t, []models.Agent{models.AgentQAGuardian}, historyAgents(res))
	assert.Equal(t, models.ProjectSimpleScript, res.Analysis.ProjectType)

	calls := caller.Calls()
	assert.True(t, strings.Contains(calls[len(calls)-1].Prompt, "Resuming after checkpoint"))

	sess, _ := store.Session(first.SessionID)
	assert.Equal(t, models.SessionCompleted, sess.State)
	assert.Equal(t, int64(1), store.Statistics().SessionsResumed)
}

func TestResume_NotResumable(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().On(models.AgentCoder, "[COMPLETE]")
	engine := New(caller, nil, WithStore(store))

	done, err := engine.Run(context.Background(), calculator, RunOptions{StartAgent: models.AgentCoder})
	require.NoError(t, err)

	_, ok, err := engine.Resume(context.Background(), done.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = engine.Resume(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = New(caller, nil).Resume(context.Background(), done.SessionID)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestRun_HintsOverrideAnalysis(t *testing.T) {
	store := newTestStore(t)
	caller := llm.NewScripted().On(models.AgentCoder, "[COMPLETE]")

	res, err := New(caller, nil, WithStore(store)).Run(context.Background(), calculator, RunOptions{
		StartAgent: models.AgentCoder,
		Hints:      map[string]string{"project_type": "cli_tool"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectCLITool, res.Analysis.ProjectType)

	sess, _ := store.Session(res.SessionID)
	assert.Equal(t, "cli_tool", sess.Metadata["hint.project_type"])
}
