package llm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/baton/pkg/models"
)

// Scripted is a Caller that replays canned responses. Responses queued for
// a specific agent are used first; otherwise the shared sequence is
// consumed in order. When both are exhausted Fallback is returned, or an
// error if Fallback is empty.
type Scripted struct {
	mu       sync.Mutex
	perAgent map[models.Agent][]string
	sequence []string
	calls    []ScriptedCall

	// Fallback answers calls once every script is used up.
	Fallback string
}

// ScriptedCall records one call made to a Scripted caller.
type ScriptedCall struct {
	Agent  models.Agent
	Prompt string
}

// NewScripted creates a caller that answers with sequence in order.
func NewScripted(sequence ...string) *Scripted {
	return &Scripted{
		perAgent: make(map[models.Agent][]string),
		sequence: sequence,
	}
}

// On queues responses for one agent and returns s for chaining.
func (s *Scripted) On(agent models.Agent, responses ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perAgent[agent] = append(s.perAgent[agent], responses...)
	return s
}

// Call implements Caller.
func (s *Scripted) Call(ctx context.Context, agent models.Agent, prompt string, _ map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, ScriptedCall{Agent: agent, Prompt: prompt})

	if q := s.perAgent[agent]; len(q) > 0 {
		s.perAgent[agent] = q[1:]
		return q[0], nil
	}
	if len(s.sequence) > 0 {
		next := s.sequence[0]
		s.sequence = s.sequence[1:]
		return next, nil
	}
	if s.Fallback != "" {
		return s.Fallback, nil
	}
	return "", fmt.Errorf("scripted caller: no response left for %s", agent)
}

// Calls returns the calls made so far.
func (s *Scripted) Calls() []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScriptedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Agents returns the agents called so far, in call order.
func (s *Scripted) Agents() []models.Agent {
	calls := s.Calls()
	out := make([]models.Agent, len(calls))
	for i, c := range calls {
		out[i] = c.Agent
	}
	return out
}

// scriptFile is the on-disk form read by LoadScript.
type scriptFile struct {
	Fallback string              `yaml:"fallback"`
	Sequence []string            `yaml:"sequence"`
	Agents   map[string][]string `yaml:"agents"`
}

// LoadScript reads a YAML script for dry runs:
//
//	fallback: "[COMPLETE]"
//	sequence: ["first reply", "second reply"]
//	agents:
//	  Coder: ["Implemented. [NEXT_AGENT: QA_Guardian]"]
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode script %s: %w", path, err)
	}
	s := NewScripted(f.Sequence...)
	s.Fallback = f.Fallback
	for name, responses := range f.Agents {
		agent, ok := models.ParseAgent(name)
		if !ok {
			return nil, fmt.Errorf("script %s: unknown agent %q", path, name)
		}
		s.On(agent, responses...)
	}
	return s, nil
}
