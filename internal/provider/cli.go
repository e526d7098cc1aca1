package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ClaudeCLI answers prompts with the claude command line tool in print mode
type ClaudeCLI struct {
	Binary       string // defaults to "claude"
	DefaultModel string
	WorkDir      string
}

// claudeResultMessage is the JSON document printed by --output-format json
type claudeResultMessage struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype,omitempty"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	SessionID string  `json:"session_id,omitempty"`
	CostUSD   float64 `json:"total_cost_usd,omitempty"`
}

// Complete runs claude and returns its final result text
func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (string, error) {
	cmd := c.buildCommand(ctx, req)
	stdout, err := runCLI(cmd)
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}
	return parseClaudeResult(stdout)
}

func (c *ClaudeCLI) buildCommand(ctx context.Context, req Request) *exec.Cmd {
	binary := c.Binary
	if binary == "" {
		binary = "claude"
	}
	args := []string{
		"--print",                 // Non-interactive mode
		"--output-format", "json", // Single result document
	}
	model := req.Model
	if model == "" {
		model = c.DefaultModel
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = c.WorkDir
	return cmd
}

func parseClaudeResult(stdout string) (string, error) {
	trimmed := strings.TrimSpace(stdout)
	var msg claudeResultMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		// Older versions print plain text even when asked for JSON
		return trimmed, nil
	}
	if msg.IsError || strings.HasPrefix(msg.Subtype, "error") {
		if msg.Result != "" {
			return "", fmt.Errorf("claude reported an error: %s", msg.Result)
		}
		return "", fmt.Errorf("claude reported an error (%s)", msg.Subtype)
	}
	return msg.Result, nil
}

// GeminiCLI answers prompts with the gemini command line tool
type GeminiCLI struct {
	Binary       string // defaults to "gemini"
	DefaultModel string
	WorkDir      string
}

// Complete runs gemini non-interactively and returns its stdout
func (g *GeminiCLI) Complete(ctx context.Context, req Request) (string, error) {
	stdout, err := runCLI(g.buildCommand(ctx, req))
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return strings.TrimSpace(stdout), nil
}

func (g *GeminiCLI) buildCommand(ctx context.Context, req Request) *exec.Cmd {
	binary := g.Binary
	if binary == "" {
		binary = "gemini"
	}
	var args []string
	model := req.Model
	if model == "" {
		model = g.DefaultModel
	}
	if model != "" {
		args = append(args, "-m", model)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = g.WorkDir
	return cmd
}

// runCLI runs cmd and returns stdout. A non-zero exit becomes an error carrying stderr.
func runCLI(cmd *exec.Cmd) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			if msg != "" {
				return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), msg)
			}
		}
		return "", err
	}
	return stdout.String(), nil
}
