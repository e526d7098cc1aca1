package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/chainstore"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/httpcall"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/nodes"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/provider"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/shell"
	"github.com/hochfrequenz/claude-chain-orchestrator/internal/templates"
)

// app holds what every command needs: config, logger and the store
type app struct {
	cfg   *config.Config
	log   *zap.SugaredLogger
	store *chainstore.Store
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}
	if verbose {
		logCfg.Level = "debug"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	store, err := chainstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &app{cfg: cfg, log: log, store: store}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.log.Sync()
}

func (a *app) providers() *provider.Registry {
	p := a.cfg.Providers
	reg := provider.NewRegistry(p.DefaultAgent)
	reg.Register(provider.AgentClaude, &provider.ClaudeCLI{
		Binary:       p.ClaudeBinary,
		DefaultModel: p.ClaudeModel,
		WorkDir:      p.WorkDir,
	})
	reg.Register(provider.AgentGemini, &provider.GeminiCLI{
		Binary:       p.GeminiBinary,
		DefaultModel: p.GeminiModel,
		WorkDir:      p.WorkDir,
	})
	return reg
}

func (a *app) notifier() notify.Notifier {
	return notify.New(notify.Options{
		Desktop:      a.cfg.Notifications.Desktop,
		SlackWebhook: a.cfg.Notifications.SlackWebhook,
	}, a.log.Named("notify"))
}

// newManager wires the engine to real collaborators. Close it when done.
func (a *app) newManager() *engine.Manager {
	limits := a.cfg.Limits()
	e := engine.New(engine.Options{
		Deps: &nodes.Deps{
			Providers: a.providers(),
			Shell:     shell.NewRunner(),
			HTTP:      httpcall.New(limits.HTTPTimeout),
			Notifier:  a.notifier(),
			Limits:    limits,
		},
		Chains:           a.store,
		MaxSubChainDepth: a.cfg.Engine.MaxSubChainDepth,
		MaxSteps:         a.cfg.Engine.MaxSteps,
		Logger:           a.log,
	})
	return engine.NewManager(e, a.store, a.store, a.log)
}

func (a *app) catalog() *templates.Catalog {
	cwd, _ := os.Getwd()
	return templates.DefaultCatalog(cwd, a.cfg.General.TemplateDirs...)
}

// resolveChain finds a chain by id, falling back to a unique name match
func resolveChain(store *chainstore.Store, ref string) (*domain.Chain, error) {
	c, err := store.GetChain(ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrChainNotFound) {
		return nil, err
	}

	chains, err := store.ListChains(chainstore.ListOptions{})
	if err != nil {
		return nil, err
	}
	var matches []*domain.Chain
	for _, c := range chains {
		if strings.EqualFold(c.Name, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", domain.ErrChainNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%d chains are named %q, use the id", len(matches), ref)
	}
}

// parseVars turns repeated key=value flags into a map
func parseVars(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, want key=value", p)
		}
		out[key] = value
	}
	return out, nil
}
