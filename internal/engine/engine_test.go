package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chaintest"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/nodes"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/provider"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/shell"
)

type chainMap map[string]*domain.Chain

func (m chainMap) GetChain(id string) (*domain.Chain, error) {
	c, ok := m[id]
	if !ok {
		return nil, domain.ErrChainNotFound
	}
	return c, nil
}

type recorder struct {
	mu       sync.Mutex
	started  []*domain.Run
	finished []*domain.Run
	results  []domain.ChainNodeResult
}

func (r *recorder) RunStarted(run *domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, run)
}

func (r *recorder) NodeFinished(run *domain.Run, res domain.ChainNodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) RunFinished(run *domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
}

// echoProvider returns the prompt it receives
func echoProvider() provider.Provider {
	return provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		return req.Prompt, nil
	})
}

func newEngine(t *testing.T, p provider.Provider, chains chainMap, obs Observer) *Engine {
	t.Helper()
	reg := provider.NewRegistry(provider.AgentClaude)
	if p == nil {
		p = echoProvider()
	}
	reg.Register(provider.AgentClaude, p)

	limits := nodes.DefaultLimits()
	limits.RetryBackoff = 0
	return New(Options{
		Deps:     &nodes.Deps{Providers: reg, Shell: shell.NewRunner(), Limits: limits},
		Chains:   chains,
		Observer: obs,
	})
}

func ai(id, prompt string, extra ...any) domain.Node {
	cfg := map[string]any{"prompt": prompt}
	for i := 0; i+1 < len(extra); i += 2 {
		cfg[extra[i].(string)] = extra[i+1]
	}
	return domain.Node{ID: id, Type: domain.NodeAIPrompt, Name: id, Config: cfg}
}

func nodeIDs(run *domain.Run) []string {
	ids := make([]string, len(run.NodeResults))
	for i, r := range run.NodeResults {
		ids[i] = r.NodeID
	}
	return ids
}

func TestExecute_LinearChainCompletes(t *testing.T) {
	chain := chaintest.Linear("linear",
		ai("a", "hello"),
		ai("b", "Result: {{prev}}"),
	)
	e := newEngine(t, nil, nil, nil)

	run, err := e.Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunCompleted || run.CompletedAt == nil {
		t.Fatalf("status = %s, completedAt = %v", run.Status, run.CompletedAt)
	}
	if diff := cmp.Diff([]string{"start", "a", "b", "end"}, nodeIDs(run)); diff != "" {
		t.Errorf("visited mismatch (-want +got):\n%s", diff)
	}
	if got := run.Output(); got != "Result: hello" {
		t.Errorf("output = %q", got)
	}
	if run.CurrentNodeID != "end" {
		t.Errorf("currentNodeId = %q", run.CurrentNodeID)
	}
}

func TestExecute_ConditionBranches(t *testing.T) {
	build := func(condType string) *domain.Chain {
		return chaintest.New("branch").
			Node("start", domain.NodeStart, nil).
			Node("cond", domain.NodeCondition, map[string]any{
				"checkValue": "hello world", "conditionType": condType, "conditionValue": "world",
			}).
			Node("yes", domain.NodeAIPrompt, map[string]any{"prompt": "took true"}).
			Node("no", domain.NodeAIPrompt, map[string]any{"prompt": "took false"}).
			Node("end", domain.NodeEnd, nil).
			Line("start", "cond").
			Connect("cond", domain.PortTrue, "yes").
			Connect("cond", domain.PortFalse, "no").
			Line("yes", "end").
			Line("no", "end").
			Build()
	}
	e := newEngine(t, nil, nil, nil)

	tests := []struct {
		condType string
		want     []string
		output   string
	}{
		{"contains", []string{"start", "cond", "yes", "end"}, "took true"},
		{"equals", []string{"start", "cond", "no", "end"}, "took false"},
	}
	for _, tt := range tests {
		t.Run(tt.condType, func(t *testing.T) {
			run, err := e.Execute(context.Background(), build(tt.condType), RunOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, nodeIDs(run)); diff != "" {
				t.Errorf("path mismatch (-want +got):\n%s", diff)
			}
			if run.Output() != tt.output {
				t.Errorf("output = %q", run.Output())
			}
		})
	}
}

func loopChain(cfg map[string]any, bodyPrompt string) *domain.Chain {
	return chaintest.New("loop").
		Node("start", domain.NodeStart, nil).
		Node("loop", domain.NodeLoop, cfg).
		Node("body", domain.NodeAIPrompt, map[string]any{"prompt": bodyPrompt}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "loop").
		Connect("loop", domain.PortLoopBody, "body").
		Connect("body", domain.PortOut, "loop").
		Connect("loop", domain.PortLoopDone, "end").
		Build()
}

func TestExecute_CountLoop(t *testing.T) {
	e := newEngine(t, nil, nil, nil)
	run, err := e.Execute(context.Background(), loopChain(map[string]any{"mode": "count", "iterations": 3}, "pass {{loop_index}}"), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var iterations []int
	var outputs []string
	for _, r := range run.NodeResults {
		if r.NodeID == "body" {
			if r.Iteration == nil {
				t.Fatal("body result without iteration")
			}
			iterations = append(iterations, *r.Iteration)
			outputs = append(outputs, r.Output)
		}
	}
	if diff := cmp.Diff([]int{0, 1, 2}, iterations); diff != "" {
		t.Errorf("iterations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pass 0", "pass 1", "pass 2"}, outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"start", "body", "body", "body", "loop", "end"}, nodeIDs(run)); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
	if loop := run.NodeResults[4]; loop.Output != "3 iterations" || loop.Iteration != nil {
		t.Errorf("loop result = %+v", loop)
	}
	if _, ok := run.Variables["loop_index"]; ok {
		t.Error("loop_index should not leak into the final variables")
	}
}

func TestExecute_UntilLoopStopsOnMatch(t *testing.T) {
	calls := 0
	p := provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		calls++
		if calls == 4 {
			return "we are done", nil
		}
		return "working", nil
	})
	e := newEngine(t, p, nil, nil)

	run, err := e.Execute(context.Background(), loopChain(map[string]any{"mode": "until", "untilCondition": "done"}, "go"), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 4 {
		t.Errorf("body ran %d times, want 4", calls)
	}
	if got := run.NodeResults[len(run.NodeResults)-2].Output; got != "4 iterations" {
		t.Errorf("loop output = %q", got)
	}
}

func TestExecute_UntilLoopHitsCap(t *testing.T) {
	e := newEngine(t, nil, nil, nil)
	run, err := e.Execute(context.Background(), loopChain(map[string]any{"mode": "until", "untilCondition": "never"}, "nope"), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	bodies := 0
	for _, r := range run.NodeResults {
		if r.NodeID == "body" {
			bodies++
		}
	}
	if bodies != 50 {
		t.Errorf("body ran %d times, want 50", bodies)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("status = %s", run.Status)
	}
}

func TestExecute_LoopBodyDeadEndEndsIteration(t *testing.T) {
	chain := chaintest.New("deadend-loop").
		Node("start", domain.NodeStart, nil).
		Node("loop", domain.NodeLoop, map[string]any{"iterations": 2}).
		Node("a", domain.NodeAIPrompt, map[string]any{"prompt": "a"}).
		Node("b", domain.NodeAIPrompt, map[string]any{"prompt": "b"}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "loop").
		Connect("loop", domain.PortLoopBody, "a").
		Line("a", "b").
		Connect("loop", domain.PortLoopDone, "end").
		Build()

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"start", "a", "b", "a", "b", "loop", "end"}, nodeIDs(run)); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_EndInsideLoopBodyCompletesRun(t *testing.T) {
	chain := chaintest.New("early-exit").
		Node("start", domain.NodeStart, nil).
		Node("loop", domain.NodeLoop, map[string]any{"iterations": 5}).
		Node("a", domain.NodeAIPrompt, map[string]any{"prompt": "a"}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "loop").
		Connect("loop", domain.PortLoopBody, "a").
		Line("a", "end").
		Build()

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"start", "a", "end"}, nodeIDs(run)); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("status = %s", run.Status)
	}
}

func TestExecute_NestedLoopsTrackInnermostIndex(t *testing.T) {
	chain := chaintest.New("nested").
		Node("start", domain.NodeStart, nil).
		Node("outer", domain.NodeLoop, map[string]any{"iterations": 2}).
		Node("inner", domain.NodeLoop, map[string]any{"iterations": 2}).
		Node("work", domain.NodeAIPrompt, map[string]any{"prompt": "{{loop_index.outer}}.{{loop_index}}"}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "outer").
		Connect("outer", domain.PortLoopBody, "inner").
		Connect("inner", domain.PortLoopBody, "work").
		Connect("work", domain.PortOut, "inner").
		Connect("inner", domain.PortLoopDone, "outer").
		Connect("outer", domain.PortLoopDone, "end").
		Build()

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var outputs []string
	for _, r := range run.NodeResults {
		if r.NodeID == "work" {
			outputs = append(outputs, r.Output)
		}
	}
	if diff := cmp.Diff([]string{"0.0", "0.1", "1.0", "1.1"}, outputs); diff != "" {
		t.Errorf("outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_DeadEndFails(t *testing.T) {
	chain := chaintest.New("dead").
		Node("start", domain.NodeStart, nil).
		Node("a", domain.NodeAIPrompt, map[string]any{"prompt": "x"}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "a").
		Build()

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	var traversal *GraphTraversalError
	if !errors.As(err, &traversal) {
		t.Fatalf("error = %v, want GraphTraversalError", err)
	}
	if run.Status != domain.RunFailed || run.CurrentNodeID != "a" || run.Error == "" {
		t.Errorf("run = %+v", run)
	}
}

func TestExecute_CycleWithoutLoopHitsStepLimit(t *testing.T) {
	chain := chaintest.New("spin").
		Node("start", domain.NodeStart, nil).
		Node("a", domain.NodeAIPrompt, map[string]any{"prompt": "x"}).
		Node("cond", domain.NodeCondition, map[string]any{
			"checkValue": "{{prev}}", "conditionType": "equals", "conditionValue": "never",
		}).
		Node("end", domain.NodeEnd, nil).
		Line("start", "a", "cond").
		Connect("cond", domain.PortTrue, "end").
		Connect("cond", domain.PortFalse, "a").
		Build()

	e := newEngine(t, nil, nil, nil)
	e.maxSteps = 10
	run, err := e.Execute(context.Background(), chain, RunOptions{})
	var traversal *GraphTraversalError
	if !errors.As(err, &traversal) || traversal.StepLimit != 10 {
		t.Fatalf("error = %v, want step limit GraphTraversalError", err)
	}
	if run.Status != domain.RunFailed || len(run.NodeResults) != 10 {
		t.Errorf("status %s after %d results", run.Status, len(run.NodeResults))
	}
	if !strings.Contains(run.Error, "step limit") {
		t.Errorf("error = %q", run.Error)
	}
}

func TestExecute_FatalNodeStopsRun(t *testing.T) {
	chain := chaintest.Linear("fatal",
		domain.Node{ID: "cmd", Type: domain.NodeCommand, Name: "Build", Config: map[string]any{"command": "echo compile error >&2; exit 2"}},
		ai("after", "never"),
	)

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	var nodeErr *NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.NodeID != "cmd" {
		t.Fatalf("error = %v, want NodeExecutionError for cmd", err)
	}
	if diff := cmp.Diff([]string{"start", "cmd"}, nodeIDs(run)); diff != "" {
		t.Errorf("visited mismatch (-want +got):\n%s", diff)
	}
	if got := run.NodeResults[1].Error; got != "compile error" {
		t.Errorf("node error = %q", got)
	}
	if !strings.Contains(run.Error, "Build") {
		t.Errorf("run error %q should name the node", run.Error)
	}
	if run.CurrentNodeID != "cmd" || run.CompletedAt == nil {
		t.Errorf("run = %+v", run)
	}
}

func TestExecute_AIRetryRecordsSingleResult(t *testing.T) {
	calls := 0
	p := provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("overloaded")
		}
		return "third time lucky", nil
	})
	chain := chaintest.Linear("retry", ai("a", "try", "retries", 2))

	run, err := newEngine(t, p, nil, nil).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var results []domain.ChainNodeResult
	for _, r := range run.NodeResults {
		if r.NodeID == "a" {
			results = append(results, r)
		}
	}
	if len(results) != 1 || results[0].Error != "" || results[0].Output != "third time lucky" {
		t.Errorf("results = %+v", results)
	}
}

func TestExecute_OutputVarCapturesLatestOutput(t *testing.T) {
	chain := chaintest.Linear("vars",
		ai("a", "first", "outputVar", "first"),
		ai("b", "second"),
		ai("c", "{{first}}+{{prev}}+{{missing}}"),
	)

	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Output(); got != "first+second+" {
		t.Errorf("output = %q", got)
	}
	if run.Variables["first"] != "first" {
		t.Errorf("variables = %v", run.Variables)
	}
}

func TestExecute_RunsAreIsolated(t *testing.T) {
	chain := chaintest.Linear("isolated", ai("a", "[{{x}}]", "outputVar", "x"))
	e := newEngine(t, nil, nil, nil)

	first, err := e.Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Error("runs share an id")
	}
	if first.Output() != "[]" || second.Output() != "[]" {
		t.Errorf("outputs = %q, %q; second run saw first run's variables", first.Output(), second.Output())
	}
}

func TestExecute_SeedVariables(t *testing.T) {
	chain := chaintest.Linear("seed", ai("a", "hi {{name}}"))
	run, err := newEngine(t, nil, nil, nil).Execute(context.Background(), chain, RunOptions{Variables: map[string]string{"name": "ada"}})
	if err != nil {
		t.Fatal(err)
	}
	if run.Output() != "hi ada" {
		t.Errorf("output = %q", run.Output())
	}
}

func TestExecute_SubChainIsIsolated(t *testing.T) {
	child := chaintest.Linear("child", ai("c", "child saw [{{secret}}] [{{prev}}]"))
	parent := chaintest.Linear("parent",
		ai("a", "parent"),
		domain.Node{ID: "sub", Type: domain.NodeSubChain, Name: "sub", Config: map[string]any{"chainId": "child"}},
	)
	rec := &recorder{}
	e := newEngine(t, nil, chainMap{"child": child}, rec)

	run, err := e.Execute(context.Background(), parent, RunOptions{Variables: map[string]string{"secret": "s3"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Output(); got != "child saw [] []" {
		t.Errorf("output = %q", got)
	}
	if len(rec.finished) != 2 {
		t.Fatalf("finished runs = %d, want 2", len(rec.finished))
	}
	childRun := rec.finished[0]
	if childRun.ParentRunID != run.ID || childRun.Depth != 1 {
		t.Errorf("child run = parent %q depth %d", childRun.ParentRunID, childRun.Depth)
	}
	if _, leaked := run.Variables["c"]; leaked {
		t.Error("child variables leaked into parent")
	}
}

func TestExecute_SubChainRecursionIsCapped(t *testing.T) {
	self := chaintest.Linear("self",
		domain.Node{ID: "sub", Type: domain.NodeSubChain, Name: "sub", Config: map[string]any{"chainId": "self"}},
	)
	rec := &recorder{}
	e := newEngine(t, nil, chainMap{"self": self}, rec)

	run, err := e.Execute(context.Background(), self, RunOptions{})
	var recursion *RecursionError
	if !errors.As(err, &recursion) {
		t.Fatalf("error = %v, want RecursionError", err)
	}
	if recursion.Depth != 11 || recursion.Limit != 10 {
		t.Errorf("recursion = %+v", recursion)
	}
	if run.Status != domain.RunFailed {
		t.Errorf("status = %s", run.Status)
	}

	maxDepth := 0
	for _, r := range rec.started {
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}
	if maxDepth != 10 || len(rec.started) != 11 {
		t.Errorf("started %d runs, deepest %d", len(rec.started), maxDepth)
	}
}

func TestExecute_UnknownSubChainFails(t *testing.T) {
	parent := chaintest.Linear("parent",
		domain.Node{ID: "sub", Type: domain.NodeSubChain, Name: "sub", Config: map[string]any{"chainId": "ghost"}},
	)
	run, err := newEngine(t, nil, chainMap{}, nil).Execute(context.Background(), parent, RunOptions{})
	if !errors.Is(err, ErrChainNotFound) {
		t.Fatalf("error = %v, want ErrChainNotFound", err)
	}
	if run.Status != domain.RunFailed || run.CurrentNodeID != "sub" {
		t.Errorf("run = %+v", run)
	}
}

func TestExecute_InvalidChainNeverStarts(t *testing.T) {
	chain := chaintest.New("broken").Node("a", domain.NodeAIPrompt, nil).Build()
	rec := &recorder{}

	run, err := newEngine(t, nil, nil, rec).Execute(context.Background(), chain, RunOptions{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if run != nil || len(rec.started) != 0 {
		t.Error("invalid chain should not start a run")
	}
}

func TestExecute_CancelledBeforeFirstNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newEngine(t, nil, nil, nil).Execute(ctx, chaintest.Linear("c"), RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if run.Status != domain.RunFailed || len(run.NodeResults) != 0 || run.CurrentNodeID != "start" {
		t.Errorf("run = %+v", run)
	}
}

func TestExecute_SnapshotIgnoresLaterEdits(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		close(started)
		<-release
		return req.Prompt, nil
	})
	chain := chaintest.Linear("snap", ai("a", "original"))
	e := newEngine(t, p, nil, nil)

	done := make(chan *domain.Run)
	go func() {
		run, _ := e.Execute(context.Background(), chain, RunOptions{})
		done <- run
	}()

	<-started
	chain.Nodes[1].Config["prompt"] = "edited"
	chain.Nodes = chain.Nodes[:1]
	close(release)

	run := <-done
	if run.Status != domain.RunCompleted || run.Output() != "original" {
		t.Errorf("run = %s %q", run.Status, run.Output())
	}
}

func TestExecute_ObserverSeesEveryNode(t *testing.T) {
	rec := &recorder{}
	chain := chaintest.Linear("obs", ai("a", "x"))
	run, err := newEngine(t, nil, nil, rec).Execute(context.Background(), chain, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.started) != 1 || len(rec.finished) != 1 || len(rec.results) != 3 {
		t.Errorf("events: started %d, results %d, finished %d", len(rec.started), len(rec.results), len(rec.finished))
	}
	if rec.started[0].Status != domain.RunRunning {
		t.Errorf("started status = %s", rec.started[0].Status)
	}
	if rec.finished[0].Status != run.Status {
		t.Errorf("finished status = %s", rec.finished[0].Status)
	}
}
