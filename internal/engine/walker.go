package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/nodes"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/vars"
)

// walkState is how a walk segment ended
type walkState int

const (
	stateCompleted walkState = iota
	stateFailed
	stateIterationDone // loop body reached its boundary
)

// walker holds the private state of one run
type walker struct {
	e     *Engine
	g     *graph.Graph
	run   *domain.Run
	vars  *vars.Store
	depth int
	log   *zap.SugaredLogger

	// iterations is the stack of active loop pass numbers, innermost last
	iterations []int
	steps      int
	cause      error
}

// walk executes nodes starting at id. With a non-nil body the walk stops
// at the end of one loop iteration: a connection back into the loop node
// or a node with no outgoing connection. Outputs of visited nodes are
// appended to outputs when it is non-nil.
func (w *walker) walk(ctx context.Context, id string, body *graph.Body, outputs *[]string) walkState {
	for {
		if err := ctx.Err(); err != nil {
			return w.fail(id, fmt.Errorf("run cancelled: %w", err))
		}

		node, ok := w.g.Node(id)
		if !ok {
			return w.fail(id, fmt.Errorf("node %q does not exist", id))
		}
		w.run.CurrentNodeID = id

		w.steps++
		if w.steps > w.e.maxSteps {
			return w.fail(id, &GraphTraversalError{NodeID: id, StepLimit: w.e.maxSteps})
		}

		out := w.execute(ctx, node)
		if out.Halted {
			if w.run.Status == domain.RunFailed {
				return stateFailed
			}
			return stateCompleted
		}

		w.record(node, out)
		if out.Err != nil && out.Fatal {
			return w.fail(id, &NodeExecutionError{NodeID: node.ID, NodeName: node.Name, NodeType: node.Type, Err: out.Err})
		}

		w.vars.SetPrev(out.Output)
		if name := domain.ConfigString(node.Config, "outputVar"); name != "" {
			w.vars.Set(name, out.Output)
		}
		if outputs != nil {
			*outputs = append(*outputs, out.Output)
		}

		if node.Type == domain.NodeEnd {
			return w.complete()
		}

		port := out.Port
		if port == "" {
			port = domain.PortOut
		}
		next, ok := w.g.NextNode(id, port)
		if body != nil && (!ok || next == body.LoopID) {
			return stateIterationDone
		}
		if !ok {
			return w.fail(id, &GraphTraversalError{NodeID: id, Port: port})
		}
		id = next
	}
}

func (w *walker) execute(ctx context.Context, node *domain.Node) nodes.Outcome {
	exec, ok := nodes.Lookup(node.Type)
	if !ok {
		return nodes.Outcome{Err: fmt.Errorf("unknown node type %q", node.Type), Fatal: true}
	}

	in := nodes.Input{
		Node:      node,
		Config:    w.vars.InterpolateConfig(node.Config),
		Vars:      w.vars,
		ChainName: w.run.ChainName,
		RunID:     w.run.ID,
		Deps:      w.e.deps,
		Log:       w.log.With("node_id", node.ID, "node_type", node.Type),
	}
	switch node.Type {
	case domain.NodeLoop:
		body := w.g.LoopBody(node.ID)
		in.Body = &bodyRunner{w: w, body: &body}
	case domain.NodeSubChain:
		in.SubChains = subChainRunner{w: w}
	}

	start := time.Now()
	out := exec.Execute(ctx, in)
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	return out
}

func (w *walker) record(node *domain.Node, out nodes.Outcome) {
	res := domain.ChainNodeResult{
		NodeID:     node.ID,
		NodeName:   node.Name,
		NodeType:   node.Type,
		Output:     out.Output,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	if n := len(w.iterations); n > 0 {
		it := w.iterations[n-1]
		res.Iteration = &it
	}
	w.run.NodeResults = append(w.run.NodeResults, res)

	w.log.Debugw("node finished",
		"node_id", node.ID, "node_type", node.Type, "duration_ms", res.DurationMs, "error", res.Error)
	if w.e.observer != nil {
		w.e.observer.NodeFinished(w.run.Clone(), res)
	}
}

func (w *walker) complete() walkState {
	now := time.Now()
	w.run.Status = domain.RunCompleted
	w.run.CompletedAt = &now
	return stateCompleted
}

func (w *walker) fail(id string, err error) walkState {
	now := time.Now()
	w.run.Status = domain.RunFailed
	w.run.CompletedAt = &now
	w.run.CurrentNodeID = id
	w.run.Error = err.Error()
	w.cause = err
	return stateFailed
}

// bodyRunner lets the loop executor drive one pass of its body
type bodyRunner struct {
	w    *walker
	body *graph.Body
}

func (b *bodyRunner) Iterate(ctx context.Context, i int) (nodes.IterationResult, error) {
	if b.body.Empty() {
		return nodes.IterationResult{}, nil
	}

	b.w.iterations = append(b.w.iterations, i)
	defer func() { b.w.iterations = b.w.iterations[:len(b.w.iterations)-1] }()

	var outputs []string
	state := b.w.walk(ctx, b.body.Entry, b.body, &outputs)
	return nodes.IterationResult{
		Outputs: outputs,
		Halted:  state != stateIterationDone,
	}, nil
}

type subChainRunner struct {
	w *walker
}

func (s subChainRunner) RunSubChain(ctx context.Context, chainID string) (string, error) {
	return s.w.e.runSubChain(ctx, s.w, chainID)
}
