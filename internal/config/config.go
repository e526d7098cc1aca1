package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/claude-chain-orchestrator/internal/nodes"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Engine        EngineConfig        `toml:"engine"`
	Providers     ProvidersConfig     `toml:"providers"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Logging       LoggingConfig       `toml:"logging"`
}

// GeneralConfig holds storage locations
type GeneralConfig struct {
	DatabasePath string   `toml:"database_path"`
	ChainsDir    string   `toml:"chains_dir"`    // watched for chain files when set
	TemplateDirs []string `toml:"template_dirs"` // override the built-in templates
}

// EngineConfig bounds what a single run may do
type EngineConfig struct {
	MaxSubChainDepth   int      `toml:"max_sub_chain_depth"`
	MaxSteps           int      `toml:"max_steps"` // node visits per run
	MaxUntilIterations int      `toml:"max_until_iterations"`
	MaxCountIterations int      `toml:"max_count_iterations"`
	MaxDelayMs         int      `toml:"max_delay_ms"`
	MaxRetries         int      `toml:"max_retries"`
	CommandTimeout     Duration `toml:"command_timeout"`
	MaxCommandTimeout  Duration `toml:"max_command_timeout"`
	HTTPTimeout        Duration `toml:"http_timeout"`
	AITimeout          Duration `toml:"ai_timeout"`
	RetryBackoff       Duration `toml:"retry_backoff"`
}

// ProvidersConfig selects the AI CLIs used by ai_prompt nodes
type ProvidersConfig struct {
	DefaultAgent string `toml:"default_agent"`
	ClaudeBinary string `toml:"claude_binary"`
	ClaudeModel  string `toml:"claude_model"`
	GeminiBinary string `toml:"gemini_binary"`
	GeminiModel  string `toml:"gemini_model"`
	WorkDir      string `toml:"work_dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
	File   string `toml:"file"`   // optional, in addition to stderr
}

// Duration is a time.Duration written as "30s" or "5m" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	limits := nodes.DefaultLimits()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".chain-orch", "chains.db"),
		},
		Engine: EngineConfig{
			MaxSubChainDepth:   10,
			MaxSteps:           100000,
			MaxUntilIterations: limits.MaxUntilIterations,
			MaxCountIterations: limits.MaxCountIterations,
			MaxDelayMs:         int(limits.MaxDelay.Milliseconds()),
			MaxRetries:         limits.MaxRetries,
			CommandTimeout:     Duration{limits.CommandTimeout},
			MaxCommandTimeout:  Duration{limits.MaxCommandTimeout},
			HTTPTimeout:        Duration{limits.HTTPTimeout},
			AITimeout:          Duration{limits.AITimeout},
			RetryBackoff:       Duration{limits.RetryBackoff},
		},
		Providers: ProvidersConfig{
			DefaultAgent: "claude",
			ClaudeBinary: "claude",
			GeminiBinary: "gemini",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.ChainsDir = ExpandPath(cfg.General.ChainsDir)
	for i, dir := range cfg.General.TemplateDirs {
		cfg.General.TemplateDirs[i] = ExpandPath(dir)
	}
	cfg.Providers.WorkDir = ExpandPath(cfg.Providers.WorkDir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot honour
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxSubChainDepth < 1 {
		return fmt.Errorf("engine.max_sub_chain_depth must be at least 1")
	}
	if e.MaxSteps < 1 {
		return fmt.Errorf("engine.max_steps must be at least 1")
	}
	if e.MaxUntilIterations < 1 || e.MaxCountIterations < 1 {
		return fmt.Errorf("engine iteration caps must be at least 1")
	}
	if e.MaxDelayMs < 0 || e.MaxRetries < 0 {
		return fmt.Errorf("engine.max_delay_ms and engine.max_retries must not be negative")
	}
	switch strings.ToLower(c.Providers.DefaultAgent) {
	case "claude", "gemini":
	default:
		return fmt.Errorf("providers.default_agent %q is not claude or gemini", c.Providers.DefaultAgent)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not console or json", c.Logging.Format)
	}
	return nil
}

// Limits converts the engine section into node limits
func (c *Config) Limits() nodes.Limits {
	e := c.Engine
	return nodes.Limits{
		CommandTimeout:     e.CommandTimeout.Duration,
		MaxCommandTimeout:  e.MaxCommandTimeout.Duration,
		HTTPTimeout:        e.HTTPTimeout.Duration,
		AITimeout:          e.AITimeout.Duration,
		MaxDelay:           time.Duration(e.MaxDelayMs) * time.Millisecond,
		RetryBackoff:       e.RetryBackoff.Duration,
		MaxRetries:         e.MaxRetries,
		MaxUntilIterations: e.MaxUntilIterations,
		MaxCountIterations: e.MaxCountIterations,
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chain-orch", "config.toml")
}
