package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/shell"
)

type commandExecutor struct{}

func (commandExecutor) Execute(ctx context.Context, in Input) Outcome {
	script := domain.ConfigString(in.Config, "command")
	if strings.TrimSpace(script) == "" {
		return fatal(fmt.Errorf("command is required"))
	}
	if in.Deps.Shell == nil {
		return fatal(fmt.Errorf("no shell runner configured"))
	}

	limits := in.Deps.Limits
	timeout := timeoutFromConfig(in.Config, limits.CommandTimeout, limits.MaxCommandTimeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := in.Deps.Shell.Run(ctx, shell.Command{
		Script: script,
		Dir:    domain.ConfigString(in.Config, "workDir"),
	})
	if err != nil {
		return fatal(err)
	}

	output := res.Stdout + res.Stderr
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		return Outcome{Output: output, Err: errors.New(msg), Fatal: true}
	}
	return Outcome{Output: output}
}
