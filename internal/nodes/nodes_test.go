package nodes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/provider"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/shell"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/vars"
)

type recordingNotifier struct {
	sent []notify.Notification
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type scriptedBody struct {
	outputs func(iteration int) []string
	halt    int // iteration that halts, -1 for never
	calls   []int
	indexes []string
	store   *vars.Store
}

func (b *scriptedBody) Iterate(ctx context.Context, i int) (IterationResult, error) {
	b.calls = append(b.calls, i)
	idx, _ := b.store.Get(vars.LoopIndex)
	b.indexes = append(b.indexes, idx)
	if i == b.halt {
		return IterationResult{Halted: true}, nil
	}
	return IterationResult{Outputs: b.outputs(i)}, nil
}

type subChainFunc func(ctx context.Context, chainID string) (string, error)

func (f subChainFunc) RunSubChain(ctx context.Context, chainID string) (string, error) {
	return f(ctx, chainID)
}

func testDeps() *Deps {
	limits := DefaultLimits()
	limits.RetryBackoff = 0
	return &Deps{Limits: limits}
}

func execute(t *testing.T, typ domain.NodeType, cfg map[string]any, deps *Deps, store *vars.Store) Outcome {
	t.Helper()
	exec, ok := Lookup(typ)
	if !ok {
		t.Fatalf("no executor for %s", typ)
	}
	if store == nil {
		store = vars.New(nil)
	}
	return exec.Execute(context.Background(), Input{
		Node:      &domain.Node{ID: "n1", Type: typ, Name: string(typ)},
		Config:    cfg,
		Vars:      store,
		ChainName: "test chain",
		RunID:     "run-1",
		Deps:      deps,
	})
}

func TestRegistryCoversEveryNodeType(t *testing.T) {
	for _, typ := range domain.NodeTypes {
		if _, ok := Lookup(typ); !ok {
			t.Errorf("no executor registered for %s", typ)
		}
	}
	if _, ok := Lookup("webhook"); ok {
		t.Error("unknown type should not resolve")
	}
}

func TestStartAndEnd(t *testing.T) {
	store := vars.New(nil)
	store.SetPrev("final answer")

	if got := execute(t, domain.NodeStart, nil, testDeps(), store); got.Err != nil || got.Port != domain.PortOut {
		t.Errorf("start outcome = %+v", got)
	}
	if got := execute(t, domain.NodeEnd, nil, testDeps(), store); got.Output != "final answer" {
		t.Errorf("end output = %q, want final answer", got.Output)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		typ     domain.ConditionType
		value   string
		against string
		want    bool
	}{
		{domain.CondContains, "hello world", "world", true},
		{domain.CondEquals, "hello world", "world", false},
		{domain.CondEquals, "same", "same", true},
		{domain.CondNotContains, "hello", "x", true},
		{domain.CondNotEquals, "a", "b", true},
		{domain.CondRegex, "build 42 ok", `\d+`, true},
		{domain.CondRegex, "anything", "([", false},
		{domain.CondGreaterThan, "10", "9.5", true},
		{domain.CondGreaterThan, "abc", "1", false},
		{domain.CondLessThan, " 3 ", "4", true},
		{domain.CondLessThan, "3", "", false},
		{domain.CondIsEmpty, "  \n", "", true},
		{domain.CondIsNotEmpty, "x", "", true},
		{"sounds_like", "a", "a", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.value, func(t *testing.T) {
			if got := Evaluate(tt.typ, tt.value, tt.against); got != tt.want {
				t.Errorf("Evaluate(%s, %q, %q) = %v, want %v", tt.typ, tt.value, tt.against, got, tt.want)
			}
		})
	}
}

func TestConditionSelectsPort(t *testing.T) {
	cfg := map[string]any{"checkValue": "hello world", "conditionType": "contains", "conditionValue": "world"}
	got := execute(t, domain.NodeCondition, cfg, testDeps(), nil)
	if got.Port != domain.PortTrue || got.Output != "true" {
		t.Errorf("contains outcome = %+v", got)
	}

	cfg["conditionType"] = "equals"
	got = execute(t, domain.NodeCondition, cfg, testDeps(), nil)
	if got.Port != domain.PortFalse || got.Output != "false" {
		t.Errorf("equals outcome = %+v", got)
	}
}

func TestAIPrompt_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	reg := provider.NewRegistry(provider.AgentClaude)
	reg.Register(provider.AgentClaude, provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		attempts++
		if req.Prompt != "summarize" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		if attempts < 3 {
			return "", errors.New("rate limited")
		}
		return "summary", nil
	}))
	deps := testDeps()
	deps.Providers = reg

	got := execute(t, domain.NodeAIPrompt, map[string]any{"prompt": "summarize", "retries": 2}, deps, nil)
	if got.Err != nil {
		t.Fatalf("unexpected error: %v", got.Err)
	}
	if got.Output != "summary" || attempts != 3 {
		t.Errorf("output = %q after %d attempts", got.Output, attempts)
	}
}

func TestAIPrompt_ExhaustedRetriesAreFatal(t *testing.T) {
	attempts := 0
	reg := provider.NewRegistry(provider.AgentClaude)
	reg.Register(provider.AgentGemini, provider.ProviderFunc(func(ctx context.Context, req provider.Request) (string, error) {
		attempts++
		return "", errors.New("boom")
	}))
	deps := testDeps()
	deps.Providers = reg

	got := execute(t, domain.NodeAIPrompt, map[string]any{"prompt": "p", "agent": "gemini", "retries": 1}, deps, nil)
	if !got.Fatal || got.Err == nil {
		t.Fatalf("expected fatal error, got %+v", got)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !strings.Contains(got.Err.Error(), "boom") {
		t.Errorf("error %q should carry the provider error", got.Err)
	}
}

func TestAIPrompt_MissingPromptAndUnknownAgent(t *testing.T) {
	deps := testDeps()
	deps.Providers = provider.NewRegistry(provider.AgentClaude)

	if got := execute(t, domain.NodeAIPrompt, map[string]any{}, deps, nil); !got.Fatal {
		t.Error("missing prompt should be fatal")
	}
	if got := execute(t, domain.NodeAIPrompt, map[string]any{"prompt": "x", "agent": "gpt"}, deps, nil); !got.Fatal {
		t.Error("unknown agent should be fatal")
	}
}

func TestBackoff(t *testing.T) {
	if got := backoff(1, time.Second); got != time.Second {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := backoff(3, time.Second); got != 4*time.Second {
		t.Errorf("backoff(3) = %v", got)
	}
	if got := backoff(20, time.Second); got != 30*time.Second {
		t.Errorf("backoff(20) = %v, want cap", got)
	}
	if got := backoff(2, 0); got != 0 {
		t.Errorf("zero base should not wait, got %v", got)
	}
}

func TestCommand(t *testing.T) {
	deps := testDeps()
	deps.Shell = shell.NewRunner()

	got := execute(t, domain.NodeCommand, map[string]any{"command": "echo out; echo err >&2"}, deps, nil)
	if got.Err != nil {
		t.Fatalf("unexpected error: %v", got.Err)
	}
	if got.Output != "out\nerr\n" {
		t.Errorf("output = %q", got.Output)
	}

	got = execute(t, domain.NodeCommand, map[string]any{"command": "echo broken >&2; exit 3"}, deps, nil)
	if !got.Fatal || got.Err == nil || got.Err.Error() != "broken" {
		t.Errorf("failing command outcome = %+v", got)
	}

	got = execute(t, domain.NodeCommand, map[string]any{"command": "exit 4"}, deps, nil)
	if got.Err == nil || got.Err.Error() != "exit status 4" {
		t.Errorf("silent failure error = %v", got.Err)
	}
}

func TestCommand_Timeout(t *testing.T) {
	deps := testDeps()
	deps.Shell = shell.NewRunner()

	got := execute(t, domain.NodeCommand, map[string]any{"command": "exec sleep 5", "timeoutMs": 100}, deps, nil)
	if !got.Fatal {
		t.Fatalf("timeout should be fatal, got %+v", got)
	}
}

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("nope"))
			return
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("header not forwarded")
		}
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	deps := testDeps()
	deps.HTTP = httpcall.New(5 * time.Second)

	got := execute(t, domain.NodeHTTPRequest, map[string]any{
		"url":     srv.URL + "/ping",
		"headers": `{"X-Token":"abc"}`,
	}, deps, nil)
	if got.Err != nil || got.Output != "pong" {
		t.Errorf("2xx outcome = %+v", got)
	}

	got = execute(t, domain.NodeHTTPRequest, map[string]any{"url": srv.URL + "/missing", "headers": map[string]any{"X-Token": "abc"}}, deps, nil)
	if got.Err != nil || got.Output != "HTTP 404: nope" {
		t.Errorf("404 outcome = %+v", got)
	}

	got = execute(t, domain.NodeHTTPRequest, map[string]any{"url": srv.URL + "/missing", "failOnStatus": true, "headers": map[string]any{"X-Token": "abc"}}, deps, nil)
	if !got.Fatal {
		t.Errorf("failOnStatus should make 404 fatal, got %+v", got)
	}
}

func TestHTTPRequest_NetworkFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	deps := testDeps()
	deps.HTTP = httpcall.New(time.Second)
	if got := execute(t, domain.NodeHTTPRequest, map[string]any{"url": url}, deps, nil); !got.Fatal {
		t.Errorf("connection refused should be fatal, got %+v", got)
	}
}

func TestDelay(t *testing.T) {
	deps := testDeps()
	deps.Limits.MaxDelay = 20 * time.Millisecond

	start := time.Now()
	got := execute(t, domain.NodeDelay, map[string]any{"delayMs": 10_000}, deps, nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("delay not clamped, took %v", elapsed)
	}
	if got.Output != "waited 20ms" {
		t.Errorf("output = %q", got.Output)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec, _ := Lookup(domain.NodeDelay)
	out := exec.Execute(ctx, Input{Node: &domain.Node{ID: "d"}, Config: map[string]any{"delayMs": 10}, Vars: vars.New(nil), Deps: testDeps()})
	if !out.Fatal {
		t.Error("cancelled delay should be fatal")
	}
}

func TestNotification(t *testing.T) {
	rec := &recordingNotifier{}
	deps := testDeps()
	deps.Notifier = rec

	got := execute(t, domain.NodeNotification, map[string]any{"message": "done", "level": "success"}, deps, nil)
	if got.Err != nil || got.Output != "done" {
		t.Fatalf("outcome = %+v", got)
	}
	want := []notify.Notification{{
		Title: "test chain", Message: "done", Level: notify.LevelSuccess, ChainName: "test chain", RunID: "run-1",
	}}
	if diff := cmp.Diff(want, rec.sent); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	rec.err = errors.New("webhook down")
	got = execute(t, domain.NodeNotification, map[string]any{"message": "done"}, deps, nil)
	if got.Fatal || got.Err == nil {
		t.Errorf("delivery failure should be recorded but non-fatal, got %+v", got)
	}
}

func TestPlanLoop(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		name string
		cfg  map[string]any
		want LoopPlan
	}{
		{"default count", map[string]any{}, LoopPlan{Mode: domain.LoopCount, Iterations: 1}},
		{"count clamped", map[string]any{"iterations": 5000}, LoopPlan{Mode: domain.LoopCount, Iterations: 1000}},
		{"until default cap", map[string]any{"mode": "until", "untilCondition": "done"}, LoopPlan{Mode: domain.LoopUntil, UntilCondition: "done", MaxIterations: 50}},
		{"until lower cap", map[string]any{"mode": "until", "maxIterations": 5}, LoopPlan{Mode: domain.LoopUntil, MaxIterations: 5}},
		{"until cap never raised", map[string]any{"mode": "until", "maxIterations": 500}, LoopPlan{Mode: domain.LoopUntil, MaxIterations: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanLoop(tt.cfg, limits)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := PlanLoop(map[string]any{"mode": "forever"}, limits); err == nil {
		t.Error("unknown mode should error")
	}
}

func runLoop(t *testing.T, cfg map[string]any, body *scriptedBody) Outcome {
	t.Helper()
	store := vars.New(nil)
	body.store = store
	exec, _ := Lookup(domain.NodeLoop)
	out := exec.Execute(context.Background(), Input{
		Node:   &domain.Node{ID: "loop1", Type: domain.NodeLoop},
		Config: cfg,
		Vars:   store,
		Deps:   testDeps(),
		Body:   body,
	})
	if store.LoopDepth() != 0 {
		t.Errorf("loop context not popped, depth %d", store.LoopDepth())
	}
	return out
}

func TestLoop_CountMode(t *testing.T) {
	body := &scriptedBody{halt: -1, outputs: func(int) []string { return []string{"x"} }}
	got := runLoop(t, map[string]any{"mode": "count", "iterations": 3}, body)

	if got.Port != domain.PortLoopDone || got.Output != "3 iterations" {
		t.Errorf("outcome = %+v", got)
	}
	if diff := cmp.Diff([]string{"0", "1", "2"}, body.indexes); diff != "" {
		t.Errorf("loop_index mismatch (-want +got):\n%s", diff)
	}
}

func TestLoop_UntilStopsOnMatch(t *testing.T) {
	body := &scriptedBody{halt: -1, outputs: func(i int) []string {
		if i == 2 {
			return []string{"still working", "all done"}
		}
		return []string{"working"}
	}}
	got := runLoop(t, map[string]any{"mode": "until", "untilCondition": "done"}, body)
	if got.Output != "3 iterations" || len(body.calls) != 3 {
		t.Errorf("outcome = %+v, calls = %v", got, body.calls)
	}
}

func TestLoop_UntilHitsCap(t *testing.T) {
	body := &scriptedBody{halt: -1, outputs: func(int) []string { return []string{"never"} }}
	got := runLoop(t, map[string]any{"mode": "until", "untilCondition": "done"}, body)
	if got.Output != "50 iterations" || got.Port != domain.PortLoopDone {
		t.Errorf("outcome = %+v", got)
	}
}

func TestLoop_HaltedBodyStopsLoop(t *testing.T) {
	body := &scriptedBody{halt: 1, outputs: func(int) []string { return nil }}
	got := runLoop(t, map[string]any{"iterations": 5}, body)
	if !got.Halted || len(body.calls) != 2 {
		t.Errorf("outcome = %+v, calls = %v", got, body.calls)
	}
}

func TestSubChain(t *testing.T) {
	var gotID string
	runner := subChainFunc(func(ctx context.Context, chainID string) (string, error) {
		gotID = chainID
		if chainID == "missing" {
			return "", errors.New("chain not found")
		}
		return "child output", nil
	})

	exec, _ := Lookup(domain.NodeSubChain)
	in := Input{Node: &domain.Node{ID: "s"}, Vars: vars.New(nil), Deps: testDeps(), SubChains: runner}

	in.Config = map[string]any{"chainId": "child"}
	if got := exec.Execute(context.Background(), in); got.Output != "child output" || gotID != "child" {
		t.Errorf("outcome = %+v", got)
	}

	in.Config = map[string]any{"chainId": "missing"}
	if got := exec.Execute(context.Background(), in); !got.Fatal {
		t.Error("unresolvable chain should be fatal")
	}

	in.Config = map[string]any{}
	if got := exec.Execute(context.Background(), in); !got.Fatal {
		t.Error("missing chainId should be fatal")
	}
}
