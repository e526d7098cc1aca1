package provider

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestClaudeCLI_BuildCommand(t *testing.T) {
	c := &ClaudeCLI{Binary: "/usr/bin/claude", DefaultModel: "sonnet"}
	cmd := c.buildCommand(context.Background(), Request{Prompt: "hello"})

	got := strings.Join(cmd.Args[1:], " ")
	want := "--print --output-format json --model sonnet -p hello"
	if got != want {
		t.Errorf("args = %q, want %q", got, want)
	}

	cmd = c.buildCommand(context.Background(), Request{Prompt: "hi", Model: "opus"})
	if !strings.Contains(strings.Join(cmd.Args, " "), "--model opus") {
		t.Errorf("request model should override default: %v", cmd.Args)
	}
}

func TestGeminiCLI_BuildCommand(t *testing.T) {
	g := &GeminiCLI{}
	cmd := g.buildCommand(context.Background(), Request{Prompt: "hello"})
	if cmd.Args[0] != "gemini" {
		t.Errorf("binary = %q, want gemini", cmd.Args[0])
	}
	if got := strings.Join(cmd.Args[1:], " "); got != "-p hello" {
		t.Errorf("args = %q, want %q", got, "-p hello")
	}
}

func TestParseClaudeResult(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    string
		wantErr bool
	}{
		{"result", `{"type":"result","subtype":"success","is_error":false,"result":"42"}`, "42", false},
		{"error flag", `{"type":"result","is_error":true,"result":"rate limited"}`, "", true},
		{"error subtype", `{"type":"result","subtype":"error_max_turns"}`, "", true},
		{"plain text", "just text\n", "just text", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClaudeResult(tt.stdout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClaudeCLI_CompleteWithFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	content := "#!/bin/sh\necho '{\"type\":\"result\",\"is_error\":false,\"result\":\"pong\"}'\n"
	if err := os.WriteFile(script, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}

	c := &ClaudeCLI{Binary: script}
	got, err := c.Complete(context.Background(), Request{Prompt: "ping"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "pong" {
		t.Errorf("Complete() = %q, want pong", got)
	}
}

func TestClaudeCLI_CompleteFailureCarriesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	content := "#!/bin/sh\necho 'not logged in' >&2\nexit 3\n"
	if err := os.WriteFile(script, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}

	c := &ClaudeCLI{Binary: script}
	_, err := c.Complete(context.Background(), Request{Prompt: "ping"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not logged in") || !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("error = %q, want stderr and exit code", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(AgentGemini)
	gem := ProviderFunc(func(ctx context.Context, req Request) (string, error) { return "g", nil })
	reg.Register(AgentGemini, gem)
	reg.Register(AgentClaude, ProviderFunc(func(ctx context.Context, req Request) (string, error) { return "c", nil }))

	p, err := reg.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := p.Complete(context.Background(), Request{}); out != "g" {
		t.Errorf("default provider returned %q, want g", out)
	}

	p, err = reg.Get("Claude")
	if err != nil {
		t.Fatal(err)
	}
	if out, _ := p.Complete(context.Background(), Request{}); out != "c" {
		t.Errorf("claude provider returned %q, want c", out)
	}

	if _, err := reg.Get("gpt"); err == nil {
		t.Error("unknown agent should error")
	}
}
