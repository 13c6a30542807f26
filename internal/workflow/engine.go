package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/baton/internal/analysis"
	"github.com/ShayCichocki/baton/internal/decision"
	"github.com/ShayCichocki/baton/internal/llm"
	"github.com/ShayCichocki/baton/internal/policy"
	"github.com/ShayCichocki/baton/internal/routing"
	"github.com/ShayCichocki/baton/internal/state"
	"github.com/ShayCichocki/baton/pkg/models"
)

// RunState is the state of one workflow run.
type RunState string

const (
	StateRunning          RunState = "RUNNING"
	StateCompleted        RunState = "COMPLETED"
	StateNeedsHumanReview RunState = "NEEDS_HUMAN_REVIEW"
	StateError            RunState = "ERROR"
	StateMaxIterations    RunState = "MAX_ITERATIONS_REACHED"
)

// Terminal returns true for every state except RUNNING.
func (s RunState) Terminal() bool {
	return s != StateRunning
}

const (
	// DefaultMaxIterations caps a run that never reaches a terminal decision.
	DefaultMaxIterations = 15
	// DefaultWorkflowName names sessions created without an explicit name.
	DefaultWorkflowName = "default"
	// MetaRequest is the session metadata key holding the original request.
	MetaRequest = "request"
	// metaHintPrefix prefixes analysis hints stored in session metadata.
	metaHintPrefix = "hint."
	// skipConfidence is the confidence of the handoff synthesized when the
	// router suppresses an agent.
	skipConfidence = 0.8
)

// ErrNoStore is returned by Resume when the engine has no session store.
var ErrNoStore = errors.New("workflow engine has no session store")

// SessionStore is the subset of the session store the engine writes to.
type SessionStore interface {
	CreateSession(workflowName string, initialAgent models.Agent, metadata map[string]string) (string, error)
	AddPacket(sessionID string, packet *models.HandoffPacket, checkpoint bool) (bool, error)
	Pause(sessionID string) (bool, error)
	Resume(sessionID string) (*models.HandoffPacket, bool, error)
	Session(sessionID string) (*models.WorkflowSession, bool)
}

var _ SessionStore = (*state.Store)(nil)

// Result is the outcome of a run. Every run ends in a terminal state with
// its full execution history, including the failing step on ERROR.
type Result struct {
	RunID      string                   `json:"run_id"`
	SessionID  string                   `json:"session_id,omitempty"`
	State      RunState                 `json:"state"`
	Iterations int                      `json:"iterations"`
	LastAgent  models.Agent             `json:"last_agent"`
	Analysis   models.ContextAnalysis   `json:"analysis"`
	History    []models.ExecutionRecord `json:"history"`
	// Reason explains why the run stopped.
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	// Err is the failure that ended an ERROR run.
	Err error `json:"-"`
}

// RunOptions configures a single run.
type RunOptions struct {
	// WorkflowName names the session. Empty means DefaultWorkflowName.
	WorkflowName string
	// StartAgent is the first agent to call. Empty means the engine default,
	// or the router's top recommendation.
	StartAgent models.Agent
	// MaxIterations overrides the engine's iteration cap when positive.
	MaxIterations int
	// Hints override analysis, e.g. {"project_type": "cli_tool"}.
	Hints map[string]string
}

// Engine runs workflows. It is safe to run several workflows concurrently
// on one engine; each run owns its own context.
type Engine struct {
	caller    llm.Caller
	analyzer  *analysis.Analyzer
	parser    *decision.Parser
	router    *routing.Router
	loops     *routing.LoopGuard
	store     SessionStore
	observers []Observer
	logger    *zap.Logger

	maxIterations int
	startAgent    models.Agent
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists every run as a session.
func WithStore(s SessionStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver adds an event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMaxIterations sets the default iteration cap.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithStartAgent sets the default first agent.
func WithStartAgent(a models.Agent) Option {
	return func(e *Engine) { e.startAgent = a }
}

// New creates an engine that calls agents through caller and routes with
// the policy from p. A nil provider means the default policy.
func New(caller llm.Caller, p policy.Provider, opts ...Option) *Engine {
	if p == nil {
		p = policy.NewStatic(nil)
	}
	e := &Engine{
		caller:        caller,
		analyzer:      analysis.New(p),
		parser:        decision.NewParser(p),
		router:        routing.NewRouter(p),
		loops:         routing.NewLoopGuard(p),
		logger:        zap.NewNop(),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the mutable state of one workflow run.
type run struct {
	wctx     *models.WorkflowContext
	analysis models.ContextAnalysis
	current  models.Agent
	maxIter  int
	// packets are the handoffs recorded so far, oldest first.
	packets []*models.HandoffPacket
	// note is passed to the first prompt only.
	note    string
	started time.Time
	result  *Result
}

// Run executes a workflow for request until it reaches a terminal state.
// Agent failures end the run in ERROR and are reported in the result; the
// returned error is only set when the session cannot be created.
func (e *Engine) Run(ctx context.Context, request string, opts RunOptions) (*Result, error) {
	r := e.newRun(request, opts.Hints, opts.MaxIterations)
	r.current = e.chooseStart(r, opts.StartAgent)

	if e.store != nil {
		name := opts.WorkflowName
		if name == "" {
			name = DefaultWorkflowName
		}
		meta := map[string]string{MetaRequest: request}
		for k, v := range opts.Hints {
			meta[metaHintPrefix+k] = v
		}
		id, err := e.store.CreateSession(name, r.current, meta)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		r.result.SessionID = id
	}
	return e.drive(ctx, r), nil
}

// Resume continues a paused or failed session from its newest checkpoint.
// ok is false when the session is unknown or not resumable.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*Result, bool, error) {
	if e.store == nil {
		return nil, false, ErrNoStore
	}
	sess, ok := e.store.Session(sessionID)
	if !ok {
		return nil, false, nil
	}
	checkpoint, ok, err := e.store.Resume(sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("resume session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, false, nil
	}

	hints := make(map[string]string)
	for k, v := range sess.Metadata {
		if name, found := strings.CutPrefix(k, metaHintPrefix); found {
			hints[name] = v
		}
	}
	r := e.newRun(sess.Metadata[MetaRequest], hints, 0)
	r.result.SessionID = sessionID
	r.packets = sess.HandoffPackets
	r.current = e.resumeAgent(sess, checkpoint)
	if checkpoint != nil {
		r.note = fmt.Sprintf("Resuming after checkpoint %s from %s: %s",
			checkpoint.CompletedTaskID, checkpoint.AgentName, checkpoint.Notes)
	} else {
		r.note = "Resuming a session that has no checkpoint; starting over."
	}
	return e.drive(ctx, r), true, nil
}

func (e *Engine) newRun(request string, hints map[string]string, maxIter int) *run {
	wctx := &models.WorkflowContext{Request: request, Hints: hints}
	a := e.analyzer.Analyze(request, wctx)
	wctx.Analysis = &a
	if maxIter <= 0 {
		maxIter = e.maxIterations
	}
	return &run{
		wctx:     wctx,
		analysis: a,
		maxIter:  maxIter,
		started:  time.Now(),
		result: &Result{
			RunID:    uuid.NewString(),
			State:    StateRunning,
			Analysis: a,
		},
	}
}

func (e *Engine) chooseStart(r *run, requested models.Agent) models.Agent {
	if requested.Valid() {
		return requested
	}
	if e.startAgent.Valid() {
		return e.startAgent
	}
	if rec, ok := e.router.NextRecommendation(r.analysis, models.AgentUnknown, r.wctx); ok {
		return rec.Agent
	}
	return e.router.FallbackAgent()
}

// resumeAgent picks who continues a resumed session: the agent the
// checkpoint handed off to, else the checkpoint's author, else the
// session's initial agent.
func (e *Engine) resumeAgent(sess *models.WorkflowSession, checkpoint *models.HandoffPacket) models.Agent {
	if checkpoint != nil {
		if a, ok := checkpoint.NextStepSuggestion.Agent(); ok {
			return a
		}
		if a, ok := models.ParseAgent(checkpoint.AgentName); ok {
			return a
		}
	}
	if a, ok := models.ParseAgent(sess.Metadata[state.MetaInitialAgent]); ok {
		return a
	}
	return e.router.FallbackAgent()
}

func (e *Engine) drive(ctx context.Context, r *run) *Result {
	e.logger.Info("workflow run started",
		zap.String("run_id", r.result.RunID),
		zap.String("session_id", r.result.SessionID),
		zap.String("agent", string(r.current)),
		zap.String("project_type", string(r.analysis.ProjectType)),
		zap.String("complexity", string(r.analysis.ComplexityLevel)))
	e.emit(r, Event{Type: EventRunStarted, Agent: r.current, Message: r.wctx.Request})

	for r.result.State == StateRunning {
		if r.wctx.Iteration >= r.maxIter {
			e.stop(r, StateMaxIterations, fmt.Sprintf("reached %d iterations", r.maxIter), nil)
			break
		}
		r.wctx.Iteration++
		e.step(ctx, r)
	}

	e.settle(r)
	return r.result
}

// step runs one iteration for the current agent.
func (e *Engine) step(ctx context.Context, r *run) {
	agent := r.current
	if err := ctx.Err(); err != nil {
		e.commit(r, outcome{agent: agent, err: err, started: time.Now()})
		e.fail(r, agent, err)
		return
	}

	if skip, reason := e.router.ShouldSkip(agent, r.analysis, r.wctx); skip {
		e.skip(ctx, r, agent, reason)
		return
	}

	e.emit(r, Event{Type: EventAgentStarted, Agent: agent})
	out := e.call(ctx, r, agent, e.prompt(r, agent))
	if !e.commit(r, out) {
		e.fail(r, agent, out.err)
		return
	}
	e.dispatch(ctx, r, agent, out.decision)
}

// skip records a suppressed agent and hands off to the router's best
// alternative as if the agent had asked for it.
func (e *Engine) skip(ctx context.Context, r *run, agent models.Agent, reason string) {
	rec, ok := e.router.NextRecommendation(r.analysis, agent, r.wctx)
	entry := models.ExecutionRecord{
		Iteration: r.wctx.Iteration,
		Agent:     agent,
		Status:    models.ExecutionSkipped,
		StartedAt: time.Now(),
	}
	var d models.AgentDecision
	if ok {
		d = models.NextAgentDecision(rec.Agent, fmt.Sprintf("skipped %s: %s", agent, reason), skipConfidence)
		entry.Decision = &d
	}
	r.wctx.Record(entry)
	e.logger.Debug("agent skipped",
		zap.String("run_id", r.result.RunID),
		zap.String("agent", string(agent)),
		zap.String("reason", reason))
	e.emit(r, Event{Type: EventAgentSkipped, Agent: agent, Decision: entry.Decision, Message: reason})

	if !ok {
		e.stop(r, StateCompleted, fmt.Sprintf("%s skipped and no agent left to run", agent), nil)
		return
	}
	e.dispatch(ctx, r, agent, d)
}

// dispatch applies a decision made by from.
func (e *Engine) dispatch(ctx context.Context, r *run, from models.Agent, d models.AgentDecision) {
	switch d.Action {
	case models.ActionComplete:
		e.stop(r, StateCompleted, d.Reason, nil)
	case models.ActionHumanReview:
		e.stop(r, StateNeedsHumanReview, d.Reason, nil)
	case models.ActionNextAgent:
		e.handoff(r, from, e.validTarget(r, d.Target))
	case models.ActionRetry:
		// same agent again
	case models.ActionParallel:
		e.parallel(ctx, r, from, d.Targets)
	case models.ActionBranch:
		r.current = e.router.BranchTarget(d.Condition)
	default:
		e.logger.Warn("unknown decision action, routing to fallback agent",
			zap.String("run_id", r.result.RunID),
			zap.String("action", string(d.Action)))
		r.current = e.router.FallbackAgent()
	}
}

// handoff moves control to target unless that would continue a loop, in
// which case the loop guard picks a substitute or the run completes.
func (e *Engine) handoff(r *run, from, target models.Agent) {
	if !e.loops.DetectLoop(target, r.wctx) {
		r.current = target
		return
	}
	e.emit(r, Event{Type: EventLoopDetected, Agent: target, Message: fmt.Sprintf("%s -> %s would repeat", from, target)})
	alt, ok := e.loops.BreakLoop(from, r.wctx)
	if !ok {
		e.stop(r, StateCompleted, fmt.Sprintf("stopped routing loop at %s", target), nil)
		return
	}
	e.logger.Info("routing loop broken",
		zap.String("run_id", r.result.RunID),
		zap.String("proposed", string(target)),
		zap.String("substitute", string(alt)))
	e.emit(r, Event{Type: EventLoopBroken, Agent: alt, Message: fmt.Sprintf("%s instead of %s", alt, target)})
	r.current = alt
}

func (e *Engine) validTarget(r *run, target models.Agent) models.Agent {
	if target.Valid() {
		return target
	}
	fallback := e.router.FallbackAgent()
	e.logger.Warn("invalid next agent, using fallback",
		zap.String("run_id", r.result.RunID),
		zap.String("target", string(target)),
		zap.String("fallback", string(fallback)))
	return fallback
}

// stop marks the run terminal. The first call wins.
func (e *Engine) stop(r *run, st RunState, reason string, err error) {
	if r.result.State != StateRunning {
		return
	}
	r.result.State = st
	r.result.Reason = reason
	r.result.Err = err
}

func (e *Engine) fail(r *run, agent models.Agent, err error) {
	e.recordPacket(r, decision.FailurePacket(agent, err, time.Now()))
	e.stop(r, StateError, err.Error(), err)
}

// settle closes the session according to the final state and publishes
// the result.
func (e *Engine) settle(r *run) {
	res := r.result
	res.Iterations = r.wctx.Iteration
	res.History = r.wctx.History
	res.Duration = time.Since(r.started)
	for i := len(res.History) - 1; i >= 0; i-- {
		if res.History[i].Status != models.ExecutionSkipped {
			res.LastAgent = res.History[i].Agent
			break
		}
	}

	switch res.State {
	case StateCompleted:
		e.completeSession(r)
	case StateNeedsHumanReview, StateMaxIterations:
		e.pauseSession(r)
	}

	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("session_id", res.SessionID),
		zap.String("state", string(res.State)),
		zap.Int("iterations", res.Iterations),
		zap.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		e.logger.Warn("workflow run failed", append(fields, zap.Error(res.Err))...)
	} else {
		e.logger.Info("workflow run finished", fields...)
	}

	ev := Event{Type: EventRunFinished, Agent: res.LastAgent, State: res.State, Message: res.Reason, Duration: res.Duration}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	e.emit(r, ev)
}

// completeSession appends a WORKFLOW_COMPLETE packet unless the session
// already finished.
func (e *Engine) completeSession(r *run) {
	if e.store == nil || r.result.SessionID == "" {
		return
	}
	sess, ok := e.store.Session(r.result.SessionID)
	if !ok || !sess.State.Progressing() {
		return
	}
	agent := r.result.LastAgent
	if !agent.Valid() {
		agent = r.current
	}
	done := models.AgentDecision{Action: models.ActionComplete, Reason: r.result.Reason, Confidence: models.MaxConfidence}
	e.recordPacket(r, decision.SynthesizePacket(agent, done, time.Now()))
}

func (e *Engine) pauseSession(r *run) {
	if e.store == nil || r.result.SessionID == "" {
		return
	}
	if _, err := e.store.Pause(r.result.SessionID); err != nil {
		e.logger.Warn("failed to pause session",
			zap.String("session_id", r.result.SessionID),
			zap.Error(err))
	}
}

// outcome is the result of one agent call.
type outcome struct {
	agent    models.Agent
	text     string
	decision models.AgentDecision
	err      error
	started  time.Time
	elapsed  time.Duration
}

func (e *Engine) prompt(r *run, agent models.Agent) string {
	p := llm.BuildPrompt(llm.PromptInput{
		Agent:     agent,
		Request:   r.wctx.Request,
		Iteration: r.wctx.Iteration,
		Analysis:  &r.analysis,
		Packets:   r.packets,
		Note:      r.note,
	})
	r.note = ""
	return p
}

// call invokes one agent and parses its decision. It only reads run state
// so PARALLEL steps can call it from several goroutines. A panicking
// caller becomes a failed outcome.
func (e *Engine) call(ctx context.Context, r *run, agent models.Agent, prompt string) (out outcome) {
	started := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("agent call panicked",
				zap.String("run_id", r.result.RunID),
				zap.String("agent", string(agent)),
				zap.Any("panic", rec))
			out = outcome{
				agent:   agent,
				err:     fmt.Errorf("agent %s panicked: %v", agent, rec),
				started: started,
				elapsed: time.Since(started),
			}
		}
	}()
	text, err := e.caller.Call(ctx, agent, prompt, map[string]string{
		"run_id":     r.result.RunID,
		"session_id": r.result.SessionID,
		"iteration":  strconv.Itoa(r.wctx.Iteration),
	})
	out = outcome{agent: agent, text: text, err: err, started: started, elapsed: time.Since(started)}
	if err == nil {
		out.decision = e.parser.Parse(text)
	}
	return out
}

// commit records an outcome in the history and, when the call succeeded,
// its handoff packet. It returns false for a failed call.
func (e *Engine) commit(r *run, out outcome) bool {
	rec := models.ExecutionRecord{
		Iteration: r.wctx.Iteration,
		Agent:     out.agent,
		StartedAt: out.started,
		Duration:  out.elapsed,
	}
	if out.err != nil {
		rec.Status = models.ExecutionError
		rec.Error = out.err.Error()
		r.wctx.Record(rec)
		return false
	}

	d := out.decision
	rec.Status = models.ExecutionExecuted
	rec.Decision = &d
	r.wctx.Record(rec)
	e.logger.Debug("agent decision",
		zap.String("run_id", r.result.RunID),
		zap.String("agent", string(out.agent)),
		zap.String("action", string(d.Action)),
		zap.Float64("confidence", d.Confidence))
	e.emit(r, Event{Type: EventDecision, Agent: out.agent, Decision: &d, Message: d.Reason, Duration: out.elapsed})

	packet, ok := decision.ExtractPacket(out.text)
	if !ok {
		packet = decision.SynthesizePacket(out.agent, d, time.Now())
	}
	e.recordPacket(r, packet)
	return true
}

// recordPacket appends a packet to the run and its session. SUCCESS
// packets are checkpoints.
func (e *Engine) recordPacket(r *run, p *models.HandoffPacket) {
	r.packets = append(r.packets, p)
	if e.store != nil && r.result.SessionID != "" {
		if _, err := e.store.AddPacket(r.result.SessionID, p, p.Status == models.PacketSuccess); err != nil {
			e.logger.Warn("failed to record handoff packet",
				zap.String("session_id", r.result.SessionID),
				zap.String("task_id", p.CompletedTaskID),
				zap.Error(err))
		}
	}
	e.emit(r, Event{Type: EventPacketRecorded, Agent: models.AgentOrRaw(p.AgentName), Packet: p.Clone()})
}

func (e *Engine) emit(r *run, ev Event) {
	ev.RunID = r.result.RunID
	ev.SessionID = r.result.SessionID
	ev.Iteration = r.wctx.Iteration
	ev.Timestamp = time.Now()
	for _, o := range e.observers {
		o.OnEvent(ev)
	}
}
