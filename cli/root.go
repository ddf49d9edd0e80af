// Package cli implements the loom command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loom-agent/loom/config"
	"github.com/loom-agent/loom/logging"
	"github.com/loom-agent/loom/store"
	"github.com/loom-agent/loom/version"
)

// Options holds global CLI options.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// NewRootCmd constructs the base CLI command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "loom",
		Short:         "loom - agent sessions over hosted and local models",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: config.yaml, then ~/.loom/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override logging level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "Override logging format (console, json)")

	cmd.AddCommand(NewChatCmd(opts))
	cmd.AddCommand(NewRunCmd(opts))
	cmd.AddCommand(NewSkillsCmd(opts))
	cmd.AddCommand(NewTemplatesCmd(opts))
	cmd.AddCommand(NewModelsCmd())
	cmd.AddCommand(NewThreadsCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig wraps config loading with shared options.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildLogger applies flag overrides on top of the configured logging
// settings.
func buildLogger(opts *Options, cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	return logging.New(level, format)
}

// openStore opens the thread and credential database, creating its parent
// directory on first use.
func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return store.Open(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
