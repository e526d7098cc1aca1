package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/provider"
)

// aiPromptExecutor sends the prompt to a provider, retrying the same prompt
// on failure. Only the last attempt is reported; Duration covers every attempt.
type aiPromptExecutor struct{}

func (aiPromptExecutor) Execute(ctx context.Context, in Input) Outcome {
	prompt := domain.ConfigString(in.Config, "prompt")
	if prompt == "" {
		return fatal(fmt.Errorf("prompt is required"))
	}
	if in.Deps.Providers == nil {
		return fatal(fmt.Errorf("no AI providers configured"))
	}
	agent := domain.ConfigString(in.Config, "agent")
	p, err := in.Deps.Providers.Get(agent)
	if err != nil {
		return fatal(err)
	}

	limits := in.Deps.Limits
	retries := domain.ConfigInt(in.Config, "retries", 0)
	if retries < 0 {
		retries = 0
	}
	if limits.MaxRetries > 0 && retries > limits.MaxRetries {
		retries = limits.MaxRetries
	}
	timeout := timeoutFromConfig(in.Config, limits.AITimeout, 0)
	req := provider.Request{Prompt: prompt, Model: domain.ConfigString(in.Config, "model")}

	var total time.Duration
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt, limits.RetryBackoff)); err != nil {
				lastErr = err
				break
			}
		}
		attempts++

		start := time.Now()
		out, err := complete(ctx, p, req, timeout)
		total += time.Since(start)
		if err == nil {
			return Outcome{Output: out, Duration: total}
		}
		lastErr = err
		in.logger().Warnw("ai prompt attempt failed",
			"node_id", in.Node.ID, "agent", agent, "attempt", attempt+1, "of", retries+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	return Outcome{
		Err:      fmt.Errorf("ai prompt failed after %d attempt(s): %w", attempts, lastErr),
		Fatal:    true,
		Duration: total,
	}
}

func complete(ctx context.Context, p provider.Provider, req provider.Request, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Complete(ctx, req)
}

// backoff doubles base for every retry after the first, capped at 30s
func backoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if limit := 30 * time.Second; d > limit || d <= 0 {
		d = limit
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
