// Package config loads refinery configuration from a YAML file with
// environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all refinery configuration.
type Config struct {
	// Workspace is the project the pipeline watches and remediates.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Providers configures each signal source.
	Providers ProvidersConfig `yaml:"providers"`

	// Triage configures the external reasoning service used for scoring.
	Triage TriageConfig `yaml:"triage"`

	// Supervisor configures plan generation and execution.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// WorkspaceConfig locates the watched project and the signal cache.
type WorkspaceConfig struct {
	Root         string `yaml:"root"`
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ProvidersConfig groups the per-source provider settings.
type ProvidersConfig struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Jira     JiraConfig     `yaml:"jira"`
	Slack    SlackConfig    `yaml:"slack"`
	Telegram TelegramConfig `yaml:"telegram"`
	Todos    TodosConfig    `yaml:"todos"`
}

// GitHubConfig configures the GitHub provider. Owner/Repo may be left
// empty to auto-detect from the workspace git remote.
type GitHubConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Token        string `yaml:"token"`
	Owner        string `yaml:"owner"`
	Repo         string `yaml:"repo"`
	BaseURL      string `yaml:"base_url"`
	PollInterval string `yaml:"poll_interval"`
}

// JiraConfig configures the Jira provider.
type JiraConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	Email        string `yaml:"email"`
	APIToken     string `yaml:"api_token"`
	PollInterval string `yaml:"poll_interval"`
}

// SlackConfig configures the Slack provider.
type SlackConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BotToken     string   `yaml:"bot_token"`
	Channels     []string `yaml:"channels"`
	BaseURL      string   `yaml:"base_url"`
	PollInterval string   `yaml:"poll_interval"`
}

// TelegramConfig configures the push-based Telegram provider.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TodosConfig configures the in-code annotation scanner.
type TodosConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Extensions   []string `yaml:"extensions"`
	PollInterval string   `yaml:"poll_interval"`
}

// TriageConfig configures the external reasoning service.
type TriageConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // anthropic, openai, custom
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// SupervisorConfig configures autonomous remediation.
type SupervisorConfig struct {
	Enabled bool `yaml:"enabled"`

	// SandboxMode simulates write steps and blocks command steps instead
	// of performing them. Fixed per plan at creation time.
	SandboxMode bool `yaml:"sandbox_mode"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:         ".",
			DatabasePath: "data/signal_cache.db",
		},
		Server: ServerConfig{
			Listen: ":8099",
		},
		Providers: ProvidersConfig{
			GitHub: GitHubConfig{
				BaseURL:      "https://api.github.com",
				PollInterval: "5m",
			},
			Jira: JiraConfig{
				PollInterval: "5m",
			},
			Slack: SlackConfig{
				BaseURL:      "https://slack.com/api",
				PollInterval: "5m",
			},
			Telegram: TelegramConfig{
				Enabled: true,
			},
			Todos: TodosConfig{
				Extensions:   []string{".go", ".py", ".ts", ".tsx", ".js", ".jsx", ".rs"},
				PollInterval: "5m",
			},
		},
		Triage: TriageConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
			Timeout:  "120s",
		},
		Supervisor: SupervisorConfig{
			Enabled:     true,
			SandboxMode: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides applies credential overrides from the environment.
// Env vars win over file values so secrets can stay out of the YAML.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Providers.GitHub.Token = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		c.Providers.Jira.APIToken = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Providers.Slack.BotToken = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Triage.APIKey = v
		if c.Triage.Provider == "" {
			c.Triage.Provider = "anthropic"
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Triage.APIKey == "" {
		c.Triage.APIKey = v
		c.Triage.Provider = "openai"
	}
}

// ParseDuration parses a duration string from the config, falling back to
// def when the value is empty or malformed.
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
