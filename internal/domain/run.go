package domain

import "time"

// Run is one execution instance of a chain
type Run struct {
	ID            string            `json:"id"`
	ChainID       string            `json:"chainId"`
	ChainName     string            `json:"chainName"`
	Status        RunStatus         `json:"status"`
	NodeResults   []ChainNodeResult `json:"nodeResults"`
	CurrentNodeID string            `json:"currentNodeId"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	Error         string            `json:"error,omitempty"`
	Variables     map[string]string `json:"variables"`
	ParentRunID   string            `json:"parentRunId,omitempty"`
	Depth         int               `json:"depth"`
}

// ChainNodeResult records one visitation of a node
type ChainNodeResult struct {
	NodeID     string   `json:"nodeId"`
	NodeName   string   `json:"nodeName"`
	NodeType   NodeType `json:"nodeType"`
	Output     string   `json:"output"`
	DurationMs int64    `json:"durationMs"`
	Error      string   `json:"error,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
	Iteration  *int     `json:"iteration,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (r *Run) Clone() *Run {
	out := *r
	out.NodeResults = make([]ChainNodeResult, len(r.NodeResults))
	for i, res := range r.NodeResults {
		out.NodeResults[i] = res
		if res.Iteration != nil {
			it := *res.Iteration
			out.NodeResults[i].Iteration = &it
		}
	}
	if r.Variables != nil {
		out.Variables = make(map[string]string, len(r.Variables))
		for k, v := range r.Variables {
			out.Variables[k] = v
		}
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Output returns the run's final textual output: the last value of prev
func (r *Run) Output() string {
	return r.Variables["prev"]
}

// Duration returns how long the run took, or has been running
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(*r.StartedAt)
	}
	return time.Since(*r.StartedAt)
}

// Schedule triggers a chain on a cron expression
type Schedule struct {
	ID        string     `json:"id"`
	ChainID   string     `json:"chainId"`
	Cron      string     `json:"cron"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
