// Package shell runs command node scripts through the system shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Command is a script to run
type Command struct {
	Script string
	Dir    string
	Env    map[string]string
}

// Result holds the outcome of a finished process
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes scripts with "sh -c"
type Runner struct {
	Shell string // defaults to "sh"
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed, in case a child process keeps them open.
	WaitDelay time.Duration
}

// NewRunner creates a Runner using sh
func NewRunner() *Runner {
	return &Runner{Shell: "sh", WaitDelay: 2 * time.Second}
}

// Run executes the script. A non-zero exit code is reported in Result, not as
// an error; errors mean the process could not run or was cut short by ctx.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	start := time.Now()

	sh := r.Shell
	if sh == "" {
		sh = "sh"
	}
	cmd := exec.CommandContext(ctx, sh, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.WaitDelay

	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("command interrupted after %s: %w", time.Since(start).Round(time.Millisecond), ctxErr)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}
