package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/graph"
)

// ErrNotFound is returned for unknown template names
var ErrNotFound = errors.New("template not found")

// Template is a starter chain definition
type Template struct {
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description" yaml:"description"`
	Tags        []string            `json:"tags,omitempty" yaml:"tags"`
	Nodes       []domain.Node       `json:"nodes" yaml:"nodes"`
	Connections []domain.Connection `json:"connections" yaml:"connections"`
}

// Catalog serves templates from the embedded catalog, letting files in
// override directories replace or extend it.
type Catalog struct {
	overrideDirs []string // checked in order; first match wins
	cache        map[string]*Template
	mu           sync.RWMutex
}

// NewCatalog creates a catalog with the given override directories
func NewCatalog(overrideDirs ...string) *Catalog {
	return &Catalog{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*Template),
	}
}

// DefaultCatalog checks extra dirs first, then the project-local
// .chain-orch/templates/ and finally ~/.config/chain-orch/templates/
func DefaultCatalog(projectRoot string, extra ...string) *Catalog {
	home, _ := os.UserHomeDir()
	dirs := append([]string{}, extra...)
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".chain-orch", "templates"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "chain-orch", "templates"))
	return NewCatalog(dirs...)
}

// loadContent reads name.yaml from the override dirs or the embedded catalog
func (c *Catalog) loadContent(name string) ([]byte, error) {
	file := name + ".yaml"
	for _, dir := range c.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, file)); err == nil {
			return data, nil
		}
	}
	data, err := fs.ReadFile(embeddedFS, "catalog/"+file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return data, err
}

// Parse decodes a template document
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns the template with the given name
func (c *Catalog) Get(name string) (*Template, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	c.mu.RLock()
	if t, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	data, err := c.loadContent(name)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	if t.Name == "" {
		t.Name = name
	}

	c.mu.Lock()
	c.cache[name] = t
	c.mu.Unlock()
	return t, nil
}

// List returns every template sorted by name
func (c *Catalog) List() ([]*Template, error) {
	names := map[string]bool{}

	entries, err := fs.ReadDir(embeddedFS, "catalog")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if name, ok := templateName(e); ok {
			names[name] = true
		}
	}
	for _, dir := range c.overrideDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if name, ok := templateName(e); ok {
				names[name] = true
			}
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	result := make([]*Template, 0, len(sorted))
	for _, name := range sorted {
		t, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func templateName(e fs.DirEntry) (string, bool) {
	if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
		return "", false
	}
	return strings.TrimSuffix(e.Name(), ".yaml"), true
}

// Instantiate creates a new chain from a template. Chain, node and
// connection ids are fresh so the result never collides with other
// instances of the same template.
func (c *Catalog) Instantiate(name, chainName string) (*domain.Chain, error) {
	t, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	chain := t.Chain(chainName)
	if err := graph.Validate(chain); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return chain, nil
}

// Chain builds a chain from the template with fresh ids
func (t *Template) Chain(chainName string) *domain.Chain {
	if chainName == "" {
		chainName = t.Name
	}
	proto := &domain.Chain{Nodes: t.Nodes, Connections: t.Connections}
	proto = proto.Clone()

	ids := make(map[string]string, len(proto.Nodes))
	for i := range proto.Nodes {
		id := uuid.NewString()
		ids[proto.Nodes[i].ID] = id
		proto.Nodes[i].ID = id
	}
	for i := range proto.Connections {
		conn := &proto.Connections[i]
		conn.ID = uuid.NewString()
		if id, ok := ids[conn.FromNodeID]; ok {
			conn.FromNodeID = id
		}
		if id, ok := ids[conn.ToNodeID]; ok {
			conn.ToNodeID = id
		}
		if conn.ToPort == "" {
			conn.ToPort = domain.PortIn
		}
	}

	return &domain.Chain{
		ID:          uuid.NewString(),
		Name:        chainName,
		Description: t.Description,
		Nodes:       proto.Nodes,
		Connections: proto.Connections,
		Tags:        append([]string(nil), t.Tags...),
	}
}
