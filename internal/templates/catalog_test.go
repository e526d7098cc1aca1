package templates

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

func TestCatalog_EveryTemplateIsValid(t *testing.T) {
	c := NewCatalog()
	list, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) < 5 {
		t.Fatalf("expected at least 5 templates, got %d", len(list))
	}

	for _, tmpl := range list {
		t.Run(tmpl.Name, func(t *testing.T) {
			if tmpl.Description == "" {
				t.Error("template has no description")
			}
			chain := &domain.Chain{ID: "x", Name: tmpl.Name, Nodes: tmpl.Nodes, Connections: tmpl.Connections}
			for _, d := range graph.Diagnose(chain) {
				t.Errorf("diagnostic: %s", d)
			}
		})
	}
}

func TestCatalog_ListIsSorted(t *testing.T) {
	list, err := NewCatalog().List()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Errorf("%q listed before %q", list[i-1].Name, list[i].Name)
		}
	}
}

func TestCatalog_GetUnknown(t *testing.T) {
	c := NewCatalog()
	for _, name := range []string{"does-not-exist", "", "../catalog/code-review"} {
		if _, err := c.Get(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestCatalog_InstantiateUsesFreshIDs(t *testing.T) {
	c := NewCatalog()
	tmpl, err := c.Get("iterative-refinement")
	if err != nil {
		t.Fatal(err)
	}

	a, err := c.Instantiate("iterative-refinement", "My essay")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Instantiate("iterative-refinement", "")
	if err != nil {
		t.Fatal(err)
	}

	if a.Name != "My essay" || b.Name != "iterative-refinement" {
		t.Errorf("names = %q, %q", a.Name, b.Name)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("chain ids not fresh: %q, %q", a.ID, b.ID)
	}
	if len(a.Nodes) != len(tmpl.Nodes) || len(a.Connections) != len(tmpl.Connections) {
		t.Fatalf("shape changed: %d nodes, %d connections", len(a.Nodes), len(a.Connections))
	}

	seen := map[string]bool{}
	for _, n := range tmpl.Nodes {
		seen[n.ID] = true
	}
	for i, n := range a.Nodes {
		if seen[n.ID] || n.ID == b.Nodes[i].ID {
			t.Errorf("node %d id %q reused", i, n.ID)
		}
	}
	if err := graph.Validate(a); err != nil {
		t.Errorf("instance does not validate: %v", err)
	}

	// instances must not share config maps with the cached template
	a.Nodes[1].Config["prompt"] = "changed"
	again, _ := c.Get("iterative-refinement")
	if again.Nodes[1].Config["prompt"] == "changed" {
		t.Error("instance shares config with template")
	}
}

func TestCatalog_OverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	custom := `
name: code-review
description: Team specific review
nodes:
  - {id: s, type: start, name: Start}
  - {id: e, type: end, name: End}
connections:
  - {id: c1, fromNodeId: s, toNodeId: e}
`
	extra := `
description: Only in the override dir
nodes:
  - {id: s, type: start, name: Start}
  - {id: e, type: end, name: End}
connections:
  - {id: c1, fromNodeId: s, toNodeId: e}
`
	if err := os.WriteFile(filepath.Join(dir, "code-review.yaml"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hello.yaml"), []byte(extra), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCatalog(dir)
	got, err := c.Get("code-review")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "Team specific review" {
		t.Errorf("override not used: %q", got.Description)
	}

	hello, err := c.Get("hello")
	if err != nil {
		t.Fatal(err)
	}
	if hello.Name != "hello" {
		t.Errorf("name should default to file name, got %q", hello.Name)
	}

	chain, err := c.Instantiate("hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if chain.Connections[0].ToPort != domain.PortIn {
		t.Errorf("toPort = %q, want in", chain.Connections[0].ToPort)
	}

	list, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, tmpl := range list {
		if tmpl.Name == "hello" {
			found = true
		}
	}
	if !found {
		t.Error("override-only template missing from List")
	}
}
