// Package provider calls AI coding CLIs to answer prompts for ai_prompt nodes.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Agent names accepted in an ai_prompt node's "agent" config
const (
	AgentClaude = "claude"
	AgentGemini = "gemini"
)

// Request is a single prompt sent to a provider
type Request struct {
	Prompt string
	Model  string
}

// Provider turns a prompt into text
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f
func (f ProviderFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Registry maps agent names to providers
type Registry struct {
	providers    map[string]Provider
	defaultAgent string
	mu           sync.RWMutex
}

// NewRegistry creates an empty registry. defaultAgent is used when a node
// does not name one.
func NewRegistry(defaultAgent string) *Registry {
	if defaultAgent == "" {
		defaultAgent = AgentClaude
	}
	return &Registry{
		providers:    make(map[string]Provider),
		defaultAgent: defaultAgent,
	}
}

// Register adds or replaces the provider for an agent name
func (r *Registry) Register(agent string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(agent)] = p
}

// Get returns the provider for agent, or the default provider when agent is empty
func (r *Registry) Get(agent string) (Provider, error) {
	if agent == "" {
		agent = r.defaultAgent
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(agent)]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q (available: %s)", agent, strings.Join(r.agentsLocked(), ", "))
	}
	return p, nil
}

// Agents lists the registered agent names
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentsLocked()
}

func (r *Registry) agentsLocked() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
