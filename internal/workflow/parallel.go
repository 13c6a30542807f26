package workflow

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/baton/pkg/models"
)

// parallel fans out to every valid target, waits for all of them and
// routes on the combined decisions. Records and packets follow the order
// of targets, not completion order.
func (e *Engine) parallel(ctx context.Context, r *run, from models.Agent, targets []models.Agent) {
	valid := make([]models.Agent, 0, len(targets))
	for _, t := range targets {
		if t.Valid() {
			valid = append(valid, t)
			continue
		}
		e.logger.Warn("dropping invalid parallel target",
			zap.String("run_id", r.result.RunID),
			zap.String("target", string(t)))
	}
	if len(valid) == 0 {
		r.current = e.router.FallbackAgent()
		return
	}

	prompts := make([]string, len(valid))
	for i, a := range valid {
		e.emit(r, Event{Type: EventAgentStarted, Agent: a, Message: "parallel"})
		prompts[i] = e.prompt(r, a)
	}

	outs := make([]outcome, len(valid))
	var g errgroup.Group
	for i, a := range valid {
		g.Go(func() error {
			outs[i] = e.call(ctx, r, a, prompts[i])
			return outs[i].err
		})
	}
	failed := g.Wait() != nil

	for _, out := range outs {
		e.commit(r, out)
	}
	if failed {
		for _, out := range outs {
			if out.err != nil {
				e.fail(r, out.agent, out.err)
				return
			}
		}
	}

	chosen, ok := aggregate(outs)
	if !ok {
		r.current = e.router.FallbackAgent()
		return
	}
	d := outs[chosen].decision
	switch d.Action {
	case models.ActionHumanReview:
		e.stop(r, StateNeedsHumanReview, d.Reason, nil)
	case models.ActionComplete:
		e.stop(r, StateCompleted, d.Reason, nil)
	default:
		e.handoff(r, outs[chosen].agent, d.Target)
	}
}

// aggregate picks the decision that steers the run after a parallel step:
// any HUMAN_REVIEW, then any COMPLETE, then the most confident NEXT_AGENT
// with a valid target. Ties keep the earlier target. ok is false when no
// result qualifies.
func aggregate(outs []outcome) (int, bool) {
	complete, best := -1, -1
	for i, out := range outs {
		d := out.decision
		switch {
		case d.Action == models.ActionHumanReview:
			return i, true
		case d.Action == models.ActionComplete:
			if complete < 0 {
				complete = i
			}
		case d.Action == models.ActionNextAgent && d.Target.Valid():
			if best < 0 || d.Confidence > outs[best].decision.Confidence {
				best = i
			}
		}
	}
	if complete >= 0 {
		return complete, true
	}
	if best >= 0 {
		return best, true
	}
	return -1, false
}
