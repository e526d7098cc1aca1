package chainfile

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chaintest"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

const sampleYAML = `
id: greet
name: Greeter
description: says hello
tags: [demo]
nodes:
  - id: start
    type: start
    name: Start
  - id: hello
    type: ai_prompt
    name: Hello
    config:
      prompt: "Say hello to {{name}}"
      retries: 2
      headers:
        X-Trace: "1"
  - id: end
    type: end
    name: End
connections:
  - {id: c1, fromNodeId: start, fromPort: out, toNodeId: hello, toPort: in}
  - {id: c2, fromNodeId: hello, fromPort: out, toNodeId: end, toPort: in}
`

func TestParse_YAML(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), ".yaml")
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != "greet" || c.Name != "Greeter" || len(c.Nodes) != 3 || len(c.Connections) != 2 {
		t.Fatalf("chain = %+v", c)
	}
	cfg := c.Nodes[1].Config
	if domain.ConfigInt(cfg, "retries", 0) != 2 {
		t.Errorf("retries = %v", cfg["retries"])
	}
	if _, ok := cfg["headers"].(map[string]any); !ok {
		t.Errorf("headers decoded as %T", cfg["headers"])
	}
}

func TestParse_RequiresName(t *testing.T) {
	if _, err := Parse([]byte(`{"id":"x","nodes":[]}`), ".json"); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := Parse([]byte("nodes: [oops"), ".yaml"); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	chain := chaintest.Linear("roundtrip", domain.Node{
		ID: "cmd", Type: domain.NodeCommand, Name: "List",
		Config: map[string]any{"command": "ls", "timeoutMs": 500.0},
	})
	chain.Name = "Round trip"
	chain.Tags = []string{"x"}

	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "chain"+ext)
			if err := Save(path, chain); err != nil {
				t.Fatal(err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(chain.Nodes, got.Nodes); diff != "" {
				t.Errorf("nodes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(chain.Connections, got.Connections); diff != "" {
				t.Errorf("connections mismatch (-want +got):\n%s", diff)
			}
			if got.Name != chain.Name || got.ID != chain.ID {
				t.Errorf("got %q/%q", got.ID, got.Name)
			}
		})
	}
}

func TestLoad_DefaultsIDToFileName(t *testing.T) {
	dir := t.TempDir()
	chain := chaintest.Linear("")
	chain.Name = "anonymous"
	path := filepath.Join(dir, "nightly-report.json")
	if err := Save(path, chain); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "nightly-report" {
		t.Errorf("id = %q", got.ID)
	}
}

func TestIsChainFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.yaml": true, "b.YML": true, "c.json": true, "d.md": false, "e": false,
	} {
		if got := IsChainFile(path); got != want {
			t.Errorf("IsChainFile(%q) = %v", path, got)
		}
	}
}
