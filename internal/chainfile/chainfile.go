// Package chainfile reads and writes chain definitions as YAML or JSON files.
package chainfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
)

// IsChainFile reports whether path has an extension this package reads
func IsChainFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Load reads a chain from path. The format follows the file extension.
func Load(path string) (*domain.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if c.ID == "" {
		c.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return c, nil
}

// Parse decodes a chain. ext selects JSON for ".json" and YAML otherwise.
func Parse(data []byte, ext string) (*domain.Chain, error) {
	var c domain.Chain
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		// numbers in config decode as float64, same as chains read from the store
		if err := normalise(&c); err != nil {
			return nil, err
		}
	}
	if c.Name == "" {
		return nil, fmt.Errorf("chain has no name")
	}
	return &c, nil
}

// Save writes c to path, as JSON for ".json" and YAML otherwise
func Save(path string, c *domain.Chain) error {
	data, err := Marshal(c, filepath.Ext(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal encodes a chain definition without its bookkeeping fields
func Marshal(c *domain.Chain, ext string) ([]byte, error) {
	if strings.EqualFold(ext, ".json") {
		def := struct {
			ID          string              `json:"id"`
			Name        string              `json:"name"`
			Description string              `json:"description,omitempty"`
			Tags        []string            `json:"tags,omitempty"`
			Nodes       []domain.Node       `json:"nodes"`
			Connections []domain.Connection `json:"connections"`
		}{c.ID, c.Name, c.Description, c.Tags, c.Nodes, c.Connections}
		return json.MarshalIndent(def, "", "  ")
	}
	return yaml.Marshal(c)
}

func normalise(c *domain.Chain) error {
	for i := range c.Nodes {
		if c.Nodes[i].Config == nil {
			continue
		}
		data, err := json.Marshal(c.Nodes[i].Config)
		if err != nil {
			return fmt.Errorf("node %s config: %w", c.Nodes[i].ID, err)
		}
		var cfg map[string]any
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		c.Nodes[i].Config = cfg
	}
	return nil
}
