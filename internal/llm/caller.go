// Package llm is the boundary between the workflow engine and the language
// model backends that play each agent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/baton/pkg/models"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("empty model response")

// Caller invokes one agent. vars carries per-call context such as the
// session id; backends may ignore it. Implementations must be safe for
// concurrent use since parallel steps call them from several goroutines.
type Caller interface {
	Call(ctx context.Context, agent models.Agent, prompt string, vars map[string]string) (string, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, agent models.Agent, prompt string, vars map[string]string) (string, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, agent models.Agent, prompt string, vars map[string]string) (string, error) {
	return f(ctx, agent, prompt, vars)
}

// WithTimeout bounds every call made through c. A non-positive d returns c
// unchanged.
func WithTimeout(c Caller, d time.Duration) Caller {
	if d <= 0 {
		return c
	}
	return CallerFunc(func(ctx context.Context, agent models.Agent, prompt string, vars map[string]string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			text string
			err  error
		}
		done := make(chan result, 1)
		go func() {
			text, err := c.Call(ctx, agent, prompt, vars)
			done <- result{text, err}
		}()

		select {
		case r := <-done:
			return r.text, r.err
		case <-ctx.Done():
			return "", fmt.Errorf("call %s: %w", agent, ctx.Err())
		}
	})
}
