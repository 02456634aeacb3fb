package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rogers-F/agentloop/internal/config"
)

const configEnv = "AGENTLOOP_CONFIG"

var configNames = []string{"agentloop.json", "agentloop.yaml", "agentloop.yml", "agentloop.toml"}

type globalOptions struct {
	configPath string
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "agentloop",
		Short: "Unattended coding-agent loop",
		Long: `agentloop runs a coding agent in a terminal session, waits for it to go
quiet, then verifies, snapshots and reviews its work. Reviews that ask for
improvements are fed back to the agent until the work is approved or the
fix budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (json, yaml or toml; default: $"+configEnv+" or agentloop.* next to the binary or in the cwd)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format (table, json, yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newJobsCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath applies flag > env > discovery.
func resolveConfigPath(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	return discoverConfig()
}

// discoverConfig looks for agentloop.* next to the executable, then in the cwd.
func discoverConfig() string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	dirs = append(dirs, ".")
	for _, dir := range dirs {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// loadConfig loads the resolved config file. Without one, required commands
// fail and the rest run on built-in defaults.
func (o *globalOptions) loadConfig(required bool) (*config.Config, error) {
	path := resolveConfigPath(o.configPath)
	if path == "" {
		if required {
			return nil, fmt.Errorf("no config found: use --config <path>, set %s, or place agentloop.yaml next to the binary", configEnv)
		}
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if o.verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
