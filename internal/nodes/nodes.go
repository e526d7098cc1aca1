// Package nodes implements the behaviour of each chain node type.
//
// Executors are stateless and resolved through a static registry keyed by
// node type. Everything a node needs arrives in Input: its interpolated
// config, the run's variables, and the external collaborators in Deps.
package nodes

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/provider"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/shell"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/vars"
)

// ProviderSource resolves an agent name to an AI provider
type ProviderSource interface {
	Get(agent string) (provider.Provider, error)
}

// ShellRunner executes command scripts
type ShellRunner interface {
	Run(ctx context.Context, c shell.Command) (*shell.Result, error)
}

// HTTPDoer performs HTTP calls
type HTTPDoer interface {
	Do(ctx context.Context, r httpcall.Request) (*httpcall.Response, error)
}

// SubChainRunner runs another chain in an isolated run and returns its output
type SubChainRunner interface {
	RunSubChain(ctx context.Context, chainID string) (string, error)
}

// BodyRunner walks a loop body once
type BodyRunner interface {
	Iterate(ctx context.Context, iteration int) (IterationResult, error)
}

// IterationResult reports what one pass over a loop body produced
type IterationResult struct {
	Outputs []string
	// Halted is set when the run terminated inside the body, either by
	// failing or by reaching an end node. The loop must stop immediately.
	Halted bool
}

// Limits bound the resources a single node may use
type Limits struct {
	CommandTimeout     time.Duration
	MaxCommandTimeout  time.Duration
	HTTPTimeout        time.Duration
	AITimeout          time.Duration
	MaxDelay           time.Duration
	RetryBackoff       time.Duration
	MaxRetries         int
	MaxUntilIterations int
	MaxCountIterations int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		CommandTimeout:     30 * time.Second,
		MaxCommandTimeout:  10 * time.Minute,
		HTTPTimeout:        30 * time.Second,
		AITimeout:          5 * time.Minute,
		MaxDelay:           60 * time.Second,
		RetryBackoff:       time.Second,
		MaxRetries:         10,
		MaxUntilIterations: 50,
		MaxCountIterations: 1000,
	}
}

// Deps are the collaborators shared by every run
type Deps struct {
	Providers ProviderSource
	Shell     ShellRunner
	HTTP      HTTPDoer
	Notifier  notify.Notifier
	Limits    Limits
}

// Input is everything an executor sees for one node visitation
type Input struct {
	Node      *domain.Node
	Config    map[string]any // already interpolated
	Vars      *vars.Store
	ChainName string
	RunID     string
	Deps      *Deps
	Body      BodyRunner     // set for loop nodes
	SubChains SubChainRunner // set for sub_chain nodes
	Log       *zap.SugaredLogger
}

// Outcome is the result of executing a node
type Outcome struct {
	Output string
	// Err is recorded on the node result. When Fatal is false the run continues.
	Err   error
	Fatal bool
	// Port overrides the default "out" port
	Port domain.Port
	// Duration, when set, replaces the engine's wall-clock measurement
	Duration time.Duration
	// Halted means the run already terminated inside this node (loop bodies)
	Halted bool
}

// Executor runs one node type
type Executor interface {
	Execute(ctx context.Context, in Input) Outcome
}

var registry = map[domain.NodeType]Executor{
	domain.NodeStart:        startExecutor{},
	domain.NodeEnd:          endExecutor{},
	domain.NodeAIPrompt:     aiPromptExecutor{},
	domain.NodeCommand:      commandExecutor{},
	domain.NodeHTTPRequest:  httpRequestExecutor{},
	domain.NodeCondition:    conditionExecutor{},
	domain.NodeLoop:         loopExecutor{},
	domain.NodeDelay:        delayExecutor{},
	domain.NodeNotification: notificationExecutor{},
	domain.NodeSubChain:     subChainExecutor{},
}

// Lookup returns the executor for a node type
func Lookup(t domain.NodeType) (Executor, bool) {
	e, ok := registry[t]
	return e, ok
}

func fatal(err error) Outcome {
	return Outcome{Err: err, Fatal: true}
}

// timeoutFromConfig reads timeoutMs, falling back to def and never exceeding ceiling
func timeoutFromConfig(cfg map[string]any, def, ceiling time.Duration) time.Duration {
	d := def
	if ms := domain.ConfigInt(cfg, "timeoutMs", 0); ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

func (in Input) logger() *zap.SugaredLogger {
	if in.Log == nil {
		return zap.NewNop().Sugar()
	}
	return in.Log
}
