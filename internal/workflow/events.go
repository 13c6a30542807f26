// Package workflow drives a multi-agent run: it calls agents, parses their
// decisions and routes control until the run reaches a terminal state.
package workflow

import (
	"time"

	"github.com/ShayCichocki/baton/pkg/models"
)

// EventType represents the type of workflow event.
type EventType string

const (
	// EventRunStarted indicates a run (or a resumed run) has begun.
	EventRunStarted EventType = "run_started"
	// EventAgentStarted indicates an agent call is about to be made.
	EventAgentStarted EventType = "agent_started"
	// EventAgentSkipped indicates the router suppressed an agent call.
	EventAgentSkipped EventType = "agent_skipped"
	// EventDecision carries the decision parsed from an agent response.
	EventDecision EventType = "decision"
	// EventPacketRecorded indicates a handoff packet was appended to the session.
	EventPacketRecorded EventType = "packet_recorded"
	// EventLoopDetected indicates the proposed next agent would cycle.
	EventLoopDetected EventType = "loop_detected"
	// EventLoopBroken indicates a substitute agent was chosen to break a loop.
	EventLoopBroken EventType = "loop_broken"
	// EventRunFinished indicates the run reached a terminal state.
	EventRunFinished EventType = "run_finished"
)

// Event is emitted by the engine as a run progresses. Events feed the TUI,
// metrics and the message bus publisher.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	// Agent is the agent the event is about.
	Agent    models.Agent          `json:"agent,omitempty"`
	Decision *models.AgentDecision `json:"decision,omitempty"`
	Packet   *models.HandoffPacket `json:"packet,omitempty"`
	// State is set on run_finished.
	State   RunState `json:"state,omitempty"`
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
	// Duration is the agent call latency on decision events and the total
	// run time on run_finished.
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer receives engine events. OnEvent is called synchronously from
// the goroutine running the workflow and must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
