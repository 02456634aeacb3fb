package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Rogers-F/agentloop/internal/domain"
)

// Reviewer kinds accepted in configuration.
const (
	ReviewerKindCommand = "command"
	ReviewerKindTiered  = "tiered"
)

// ProfileConfig is an extra allow-listed verify command.
type ProfileConfig struct {
	Command string   `json:"command" yaml:"command" toml:"command"`
	Args    []string `json:"args" yaml:"args" toml:"args"`
}

// ReviewerConfig defines one reviewer variant. Command reviewers run a CLI;
// tiered reviewers name a cheap and a strong command reviewer.
type ReviewerConfig struct {
	Kind          string            `json:"kind" yaml:"kind" toml:"kind"`
	Command       string            `json:"command" yaml:"command" toml:"command"`
	Args          []string          `json:"args" yaml:"args" toml:"args"`
	Env           map[string]string `json:"env" yaml:"env" toml:"env"`
	CredentialEnv string            `json:"credential_env" yaml:"credential_env" toml:"credential_env"`
	Cheap         string            `json:"cheap" yaml:"cheap" toml:"cheap"`
	Strong        string            `json:"strong" yaml:"strong" toml:"strong"`
}

// Config holds the agent loop's runtime configuration.
type Config struct {
	DBPath     string `json:"db_path" yaml:"db_path" toml:"db_path"`
	DataDir    string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`

	Shell           string `json:"shell" yaml:"shell" toml:"shell"`
	AgentCommand    string `json:"agent_command" yaml:"agent_command" toml:"agent_command"`
	IdleThresholdMS int    `json:"idle_threshold_ms" yaml:"idle_threshold_ms" toml:"idle_threshold_ms"`
	BufferLines     int    `json:"buffer_lines" yaml:"buffer_lines" toml:"buffer_lines"`

	// Zero is a valid setting for these; nil means unset.
	LaunchDelayMS *int `json:"launch_delay_ms" yaml:"launch_delay_ms" toml:"launch_delay_ms"`
	SettleDelayMS *int `json:"settle_delay_ms" yaml:"settle_delay_ms" toml:"settle_delay_ms"`
	MaxAutoFix    *int `json:"max_auto_fix" yaml:"max_auto_fix" toml:"max_auto_fix"`

	VerifyTimeoutSec   int `json:"verify_timeout_sec" yaml:"verify_timeout_sec" toml:"verify_timeout_sec"`
	SnapshotTimeoutSec int `json:"snapshot_timeout_sec" yaml:"snapshot_timeout_sec" toml:"snapshot_timeout_sec"`
	ReviewTimeoutSec   int `json:"review_timeout_sec" yaml:"review_timeout_sec" toml:"review_timeout_sec"`

	VerifyProfile  string                   `json:"verify_profile" yaml:"verify_profile" toml:"verify_profile"`
	VerifyProfiles map[string]ProfileConfig `json:"verify_profiles" yaml:"verify_profiles" toml:"verify_profiles"`

	Reviewer              string                    `json:"reviewer" yaml:"reviewer" toml:"reviewer"`
	ReviewerCredential    string                    `json:"reviewer_credential" yaml:"reviewer_credential" toml:"reviewer_credential"`
	ReviewerCredentialEnv string                    `json:"reviewer_credential_env" yaml:"reviewer_credential_env" toml:"reviewer_credential_env"`
	Reviewers             map[string]ReviewerConfig `json:"reviewers" yaml:"reviewers" toml:"reviewers"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a JSON, YAML or TOML config file (chosen by extension),
// applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config TOML: %w", err)
		}
	default:
		return nil, &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: unsupported config extension %q", domain.ErrConfigInvalid.Message, ext),
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".agentloop")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "agentloop.db")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9810"
	}
	if c.AgentCommand == "" {
		c.AgentCommand = "claude"
	}
	if c.LaunchDelayMS == nil {
		c.LaunchDelayMS = intPtr(1000)
	}
	if c.IdleThresholdMS == 0 {
		c.IdleThresholdMS = 5000
	}
	if c.SettleDelayMS == nil {
		c.SettleDelayMS = intPtr(2000)
	}
	if c.BufferLines == 0 {
		c.BufferLines = 50
	}
	if c.VerifyTimeoutSec == 0 {
		c.VerifyTimeoutSec = 600
	}
	if c.SnapshotTimeoutSec == 0 {
		c.SnapshotTimeoutSec = 300
	}
	if c.ReviewTimeoutSec == 0 {
		c.ReviewTimeoutSec = 180
	}
	if c.MaxAutoFix == nil {
		c.MaxAutoFix = intPtr(2)
	}
	if c.VerifyProfile == "" {
		c.VerifyProfile = "auto"
	}
	if len(c.Reviewers) == 0 {
		c.Reviewers = map[string]ReviewerConfig{
			"claude": {
				Kind:          ReviewerKindCommand,
				Command:       "claude",
				Args:          []string{"-p", "--output-format", "text"},
				CredentialEnv: "ANTHROPIC_API_KEY",
			},
		}
	}
	if c.Reviewer == "" && len(c.Reviewers) == 1 {
		for name := range c.Reviewers {
			c.Reviewer = name
		}
	}
	for name, rc := range c.Reviewers {
		if rc.Kind == "" {
			rc.Kind = ReviewerKindCommand
			c.Reviewers[name] = rc
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.IdleThresholdMS < 0 || *c.LaunchDelayMS < 0 || *c.SettleDelayMS < 0 {
		problems = append(problems, "delays must not be negative")
	}
	if c.BufferLines < 0 {
		problems = append(problems, "buffer_lines must not be negative")
	}
	if c.VerifyTimeoutSec < 0 || c.SnapshotTimeoutSec < 0 || c.ReviewTimeoutSec < 0 {
		problems = append(problems, "phase timeouts must not be negative")
	}
	if *c.MaxAutoFix < 0 {
		problems = append(problems, "max_auto_fix must not be negative")
	}
	for name, p := range c.VerifyProfiles {
		if strings.TrimSpace(p.Command) == "" {
			problems = append(problems, fmt.Sprintf("verify profile %q has no command", name))
		}
	}
	problems = append(problems, c.validateReviewers()...)

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not one of text, json", c.LogFormat))
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

func (c *Config) validateReviewers() []string {
	var problems []string

	names := make([]string, 0, len(c.Reviewers))
	for name := range c.Reviewers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rc := c.Reviewers[name]
		switch rc.Kind {
		case ReviewerKindCommand:
			if strings.TrimSpace(rc.Command) == "" {
				problems = append(problems, fmt.Sprintf("reviewer %q: command is required", name))
			}
		case ReviewerKindTiered:
			for _, ref := range []string{rc.Cheap, rc.Strong} {
				target, ok := c.Reviewers[ref]
				switch {
				case ref == "":
					problems = append(problems, fmt.Sprintf("reviewer %q: tiered reviewers need cheap and strong", name))
				case !ok:
					problems = append(problems, fmt.Sprintf("reviewer %q: unknown reviewer %q", name, ref))
				case target.Kind != ReviewerKindCommand:
					problems = append(problems, fmt.Sprintf("reviewer %q: %q must be a command reviewer", name, ref))
				}
			}
		default:
			problems = append(problems, fmt.Sprintf("reviewer %q: unknown kind %q", name, rc.Kind))
		}
	}

	if c.Reviewer == "" {
		problems = append(problems, fmt.Sprintf("reviewer must name one of %v", names))
	} else if _, ok := c.Reviewers[c.Reviewer]; !ok {
		problems = append(problems, fmt.Sprintf("reviewer %q is not defined", c.Reviewer))
	}
	return problems
}

// Credential resolves the reviewer credential. A direct value wins over the
// environment variable. Empty means no reviewer is configured.
func (c *Config) Credential() string {
	if c.ReviewerCredential != "" {
		return c.ReviewerCredential
	}
	if c.ReviewerCredentialEnv != "" {
		return os.Getenv(c.ReviewerCredentialEnv)
	}
	return ""
}

// IdleThreshold is the quiescence window after which a session is idle.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdMS) * time.Millisecond
}

// LaunchDelay is the pause between first shell output and the agent launch.
func (c *Config) LaunchDelay() time.Duration {
	return time.Duration(*c.LaunchDelayMS) * time.Millisecond
}

// SettleDelay is the pause between an idle signal and the Verify phase.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(*c.SettleDelayMS) * time.Millisecond
}

// AutoFixLimit is the number of automatic fix rounds per job.
func (c *Config) AutoFixLimit() int {
	return *c.MaxAutoFix
}

func intPtr(v int) *int { return &v }

// VerifyTimeout bounds the Verify phase.
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.VerifyTimeoutSec) * time.Second
}

// SnapshotTimeout bounds the Snapshot phase.
func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.SnapshotTimeoutSec) * time.Second
}

// ReviewTimeout bounds the Review phase.
func (c *Config) ReviewTimeout() time.Duration {
	return time.Duration(c.ReviewTimeoutSec) * time.Second
}

// SlogLevel maps LogLevel onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
