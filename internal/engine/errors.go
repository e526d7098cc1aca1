package engine

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

// ValidationError reports a structurally invalid chain. Execution never begins.
type ValidationError = graph.ValidationError

var (
	// ErrChainNotFound is returned when a chain id cannot be resolved
	ErrChainNotFound = domain.ErrChainNotFound
	// ErrRunNotFound is returned for operations on runs that are not active
	ErrRunNotFound = errors.New("run not found")
	// ErrClosed is returned by a Manager after Close
	ErrClosed = errors.New("manager closed")
)

// NodeExecutionError wraps a fatal failure inside a node
type NodeExecutionError struct {
	NodeID   string
	NodeName string
	NodeType domain.NodeType
	Err      error
}

func (e *NodeExecutionError) Error() string {
	name := e.NodeName
	if name == "" {
		name = e.NodeID
	}
	return fmt.Sprintf("node %q (%s) failed: %v", name, e.NodeType, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// GraphTraversalError is raised when a non-end node has no outgoing
// connection on the port it exited through, or when a run visits more
// nodes than StepLimit allows
type GraphTraversalError struct {
	NodeID    string
	Port      domain.Port
	StepLimit int
}

func (e *GraphTraversalError) Error() string {
	if e.StepLimit > 0 {
		return fmt.Sprintf("step limit of %d node visits exceeded at node %q", e.StepLimit, e.NodeID)
	}
	return fmt.Sprintf("dead end: node %q has no connection on port %q", e.NodeID, e.Port)
}

// RecursionError is raised when a sub-chain would nest deeper than allowed
type RecursionError struct {
	ChainID string
	Depth   int
	Limit   int
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("sub-chain %q would run at depth %d, limit is %d", e.ChainID, e.Depth, e.Limit)
}
