package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// LoopPlan is a loop node's config after defaults and caps are applied
type LoopPlan struct {
	Mode           domain.LoopMode
	Iterations     int // count mode
	UntilCondition string
	MaxIterations  int // until mode safety cap
}

// PlanLoop reads a loop node's config
func PlanLoop(cfg map[string]any, limits Limits) (LoopPlan, error) {
	p := LoopPlan{Mode: domain.LoopMode(domain.ConfigString(cfg, "mode"))}
	if p.Mode == "" {
		p.Mode = domain.LoopCount
	}

	switch p.Mode {
	case domain.LoopCount:
		p.Iterations = domain.ConfigInt(cfg, "iterations", 1)
		if p.Iterations < 0 {
			p.Iterations = 0
		}
		if limit := limits.MaxCountIterations; limit > 0 && p.Iterations > limit {
			p.Iterations = limit
		}
	case domain.LoopUntil:
		p.UntilCondition = domain.ConfigString(cfg, "untilCondition")
		hardCap := limits.MaxUntilIterations
		if hardCap <= 0 {
			hardCap = 50
		}
		p.MaxIterations = domain.ConfigInt(cfg, "maxIterations", hardCap)
		if p.MaxIterations <= 0 || p.MaxIterations > hardCap {
			p.MaxIterations = hardCap
		}
	default:
		return p, fmt.Errorf("unknown loop mode %q", p.Mode)
	}
	return p, nil
}

// matches reports whether any output of an iteration satisfies the until condition
func (p LoopPlan) matches(outputs []string) bool {
	for _, out := range outputs {
		if strings.Contains(out, p.UntilCondition) {
			return true
		}
	}
	return false
}

// loopExecutor drives the body through in.Body, exposing the pass number as
// {{loop_index}} while it runs
type loopExecutor struct{}

func (loopExecutor) Execute(ctx context.Context, in Input) Outcome {
	plan, err := PlanLoop(in.Config, in.Deps.Limits)
	if err != nil {
		return fatal(err)
	}
	if in.Body == nil {
		return fatal(fmt.Errorf("loop body runner not available"))
	}

	in.Vars.PushLoop(in.Node.ID)
	defer in.Vars.PopLoop()

	n := 0
	for {
		if plan.Mode == domain.LoopCount && n >= plan.Iterations {
			break
		}
		if plan.Mode == domain.LoopUntil && n >= plan.MaxIterations {
			in.logger().Warnw("until loop hit iteration cap",
				"node_id", in.Node.ID, "cap", plan.MaxIterations, "until", plan.UntilCondition)
			break
		}

		in.Vars.SetLoopIndex(n)
		res, err := in.Body.Iterate(ctx, n)
		n++
		if err != nil {
			return fatal(err)
		}
		if res.Halted {
			return Outcome{Halted: true}
		}
		if plan.Mode == domain.LoopUntil && plan.matches(res.Outputs) {
			break
		}
	}

	return Outcome{Output: fmt.Sprintf("%d iterations", n), Port: domain.PortLoopDone}
}
