// Package engine walks chains: it executes nodes one at a time, follows
// their ports through the graph and records every visitation in a Run.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/nodes"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/vars"
)

// DefaultMaxSubChainDepth bounds sub_chain nesting
const DefaultMaxSubChainDepth = 10

// DefaultMaxSteps bounds the node visits of one run, loop passes included
const DefaultMaxSteps = 100000

// ChainResolver loads chains referenced by sub_chain nodes
type ChainResolver interface {
	GetChain(id string) (*domain.Chain, error)
}

// Observer is notified as runs progress. Every run passed is a private
// copy; observers may keep it. Calls happen on the run's goroutine and
// should return quickly.
type Observer interface {
	RunStarted(run *domain.Run)
	NodeFinished(run *domain.Run, result domain.ChainNodeResult)
	RunFinished(run *domain.Run)
}

// Options configures an Engine
type Options struct {
	Deps             *nodes.Deps
	Chains           ChainResolver
	Observer         Observer
	MaxSubChainDepth int
	MaxSteps         int
	Logger           *zap.SugaredLogger
}

// Engine executes chains. It holds no per-run state and is safe for
// concurrent use; every Execute call owns its Run and variables.
type Engine struct {
	deps     *nodes.Deps
	chains   ChainResolver
	observer Observer
	maxDepth int
	maxSteps int
	log      *zap.SugaredLogger
}

// New creates an Engine
func New(opts Options) *Engine {
	e := &Engine{
		deps:     opts.Deps,
		chains:   opts.Chains,
		observer: opts.Observer,
		maxDepth: opts.MaxSubChainDepth,
		maxSteps: opts.MaxSteps,
		log:      opts.Logger,
	}
	if e.deps == nil {
		e.deps = &nodes.Deps{Limits: nodes.DefaultLimits()}
	}
	if e.maxDepth <= 0 {
		e.maxDepth = DefaultMaxSubChainDepth
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	return e
}

// RunOptions parameterises a single execution
type RunOptions struct {
	RunID       string // generated when empty
	Variables   map[string]string
	ParentRunID string
	Depth       int
}

// Execute runs chain to completion and returns the terminal Run.
//
// The error is non-nil when the chain fails validation, in which case no
// run is returned, or when the run failed, in which case the Run is
// returned too and err is the typed cause (NodeExecutionError,
// GraphTraversalError, RecursionError or a context error).
func (e *Engine) Execute(ctx context.Context, chain *domain.Chain, opts RunOptions) (*domain.Run, error) {
	snapshot := chain.Clone()
	if err := graph.Validate(snapshot); err != nil {
		return nil, err
	}

	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	w := &walker{
		e:     e,
		g:     graph.New(snapshot),
		vars:  vars.New(opts.Variables),
		depth: opts.Depth,
		run: &domain.Run{
			ID:          id,
			ChainID:     snapshot.ID,
			ChainName:   snapshot.Name,
			Status:      domain.RunRunning,
			StartedAt:   &now,
			ParentRunID: opts.ParentRunID,
			Depth:       opts.Depth,
			NodeResults: []domain.ChainNodeResult{},
		},
		log: e.log.With("run_id", id, "chain_id", snapshot.ID),
	}
	w.run.CurrentNodeID = w.g.Start()

	w.log.Infow("run started", "chain", snapshot.Name, "depth", opts.Depth)
	if e.observer != nil {
		e.observer.RunStarted(w.run.Clone())
	}

	w.walk(ctx, w.g.Start(), nil, nil)

	w.run.Variables = w.vars.Snapshot()
	if e.observer != nil {
		e.observer.RunFinished(w.run.Clone())
	}
	if w.cause != nil {
		w.log.Warnw("run failed", "node_id", w.run.CurrentNodeID, "error", w.cause)
	} else {
		w.log.Infow("run completed", "nodes", len(w.run.NodeResults), "duration", w.run.Duration())
	}
	return w.run, w.cause
}

// runSubChain resolves chainID and executes it as a child of parent
func (e *Engine) runSubChain(ctx context.Context, parent *walker, chainID string) (string, error) {
	depth := parent.depth + 1
	if depth > e.maxDepth {
		return "", &RecursionError{ChainID: chainID, Depth: depth, Limit: e.maxDepth}
	}
	if e.chains == nil {
		return "", fmt.Errorf("sub-chain %q: %w", chainID, ErrChainNotFound)
	}
	child, err := e.chains.GetChain(chainID)
	if err != nil {
		return "", fmt.Errorf("resolve sub-chain %q: %w", chainID, err)
	}

	run, err := e.Execute(ctx, child, RunOptions{
		ParentRunID: parent.run.ID,
		Depth:       depth,
	})
	if err != nil {
		return "", fmt.Errorf("sub-chain %q: %w", child.Name, err)
	}
	return run.Output(), nil
}
