// Package config loads the immutable configuration record the daemon is
// built from at startup. There is no runtime mutation API: flag overrides
// build a new record rather than mutating a shared global, matching the
// design note that rejects "reset and reconfigure at runtime" as a pattern
// that exists only to serve test fixtures.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration record.
type Config struct {
	Forge     ForgeConfig     `yaml:"forge"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Phases    map[string]PhaseConfig `yaml:"phase"`
	Notify    NotifyConfig    `yaml:"notify"`
	History   HistoryConfig   `yaml:"history"`
	Digest    DigestConfig    `yaml:"digest"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ForgeConfig configures forge authentication and the target repository.
type ForgeConfig struct {
	AuthMethod string `yaml:"auth_method"` // "gh" | "env" | "" (auto)
	Repository string `yaml:"repository"`  // "owner/name"
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
}

// WorkflowConfig configures the control loop's cadence and behavior.
type WorkflowConfig struct {
	Interval        time.Duration `yaml:"interval"`
	UseMultiplexer  bool          `yaml:"use_multiplexer"`
	AutoMerge       bool          `yaml:"auto_merge"`
	CleanupEnabled  bool          `yaml:"cleanup_enabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	CommandDelay    time.Duration `yaml:"command_delay"`
	MaxPanes        int           `yaml:"max_panes"`
	LockStaleness   time.Duration `yaml:"lock_staleness"`
	StateDir        string        `yaml:"state_dir"`
}

// PhaseConfig configures one phase's external command.
type PhaseConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Parameter string   `yaml:"parameter"`
}

// NotifyConfig configures the best-effort notification webhook.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// HistoryConfig configures the append-only audit log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DigestConfig configures the cron-scheduled summary.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// DashboardConfig configures the read-only TUI.
type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LoggingConfig configures structured logging, grounded on the teacher's
// logging.Config shape.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the default configuration record.
func Default() *Config {
	return &Config{
		Forge: ForgeConfig{
			AuthMethod: "",
			BaseURL:    "https://api.github.com",
		},
		Workflow: WorkflowConfig{
			Interval:        20 * time.Second,
			UseMultiplexer:  true,
			AutoMerge:       true,
			CleanupEnabled:  true,
			CleanupInterval: 300 * time.Second,
			CommandDelay:    3 * time.Second,
			MaxPanes:        3,
			LockStaleness:   300 * time.Second,
			StateDir:        DefaultStateDir(),
		},
		Phases: map[string]PhaseConfig{},
		Notify: NotifyConfig{Enabled: false},
		History: HistoryConfig{
			Enabled: true,
			Path:    "history.db",
		},
		Digest: DigestConfig{
			Enabled:  false,
			Schedule: "0 9 * * *",
		},
		Dashboard: DashboardConfig{RefreshInterval: time.Second},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// DefaultStateDir returns ".loom", the project-local default for
// workflow.state_dir; a different directory is set through that config key.
func DefaultStateDir() string {
	return ".loom"
}

// Load reads and parses a YAML config file, expanding ${VAR} references
// with os.ExpandEnv before unmarshalling. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Workflow.StateDir = expandPath(cfg.Workflow.StateDir)
	if cfg.History.Path != "" && !filepath.IsAbs(cfg.History.Path) {
		cfg.History.Path = filepath.Join(cfg.Workflow.StateDir, cfg.History.Path)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the parent directory if absent.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// Validate enforces the required-field and shape constraints the
// configuration must satisfy before the daemon starts.
func (c *Config) Validate() error {
	if c.Forge.Repository == "" {
		return fmt.Errorf("forge.repository is required")
	}
	parts := strings.Split(c.Forge.Repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("forge.repository must be \"owner/name\", got %q", c.Forge.Repository)
	}
	if c.Workflow.Interval < time.Second {
		return fmt.Errorf("workflow.interval must be >= 1s")
	}
	switch c.Forge.AuthMethod {
	case "", "gh", "env":
	default:
		return fmt.Errorf("forge.auth_method must be \"gh\", \"env\", or empty, got %q", c.Forge.AuthMethod)
	}
	for name, p := range c.Phases {
		if p.Command == "" {
			return fmt.Errorf("phase.%s.command must be non-empty when the phase key is present", name)
		}
	}
	return nil
}
