package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/vars"
)

type startExecutor struct{}

func (startExecutor) Execute(ctx context.Context, in Input) Outcome {
	return Outcome{Port: domain.PortOut}
}

// endExecutor passes the latest output through as the run's final output
type endExecutor struct{}

func (endExecutor) Execute(ctx context.Context, in Input) Outcome {
	prev, _ := in.Vars.Get(vars.Prev)
	return Outcome{Output: prev}
}

type delayExecutor struct{}

func (delayExecutor) Execute(ctx context.Context, in Input) Outcome {
	ms := domain.ConfigInt(in.Config, "delayMs", 0)
	d := time.Duration(ms) * time.Millisecond
	if d < 0 {
		d = 0
	}
	if limit := in.Deps.Limits.MaxDelay; limit > 0 && d > limit {
		d = limit
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fatal(fmt.Errorf("delay interrupted: %w", ctx.Err()))
	case <-timer.C:
		return Outcome{Output: fmt.Sprintf("waited %dms", d.Milliseconds())}
	}
}

// notificationExecutor never fails the run; delivery errors are only recorded
type notificationExecutor struct{}

func (notificationExecutor) Execute(ctx context.Context, in Input) Outcome {
	message := domain.ConfigString(in.Config, "message")
	title := domain.ConfigString(in.Config, "title")
	if title == "" {
		title = in.ChainName
	}

	n := notify.Notification{
		Title:     title,
		Message:   message,
		Level:     notify.ParseLevel(domain.ConfigString(in.Config, "level")),
		ChainName: in.ChainName,
		RunID:     in.RunID,
	}

	if in.Deps.Notifier == nil {
		return Outcome{Output: message, Err: fmt.Errorf("no notifier configured")}
	}
	if err := in.Deps.Notifier.Send(ctx, n); err != nil {
		in.logger().Warnw("notification delivery failed", "node_id", in.Node.ID, "error", err)
		return Outcome{Output: message, Err: fmt.Errorf("delivery failed: %w", err)}
	}
	return Outcome{Output: message}
}
