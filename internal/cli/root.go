// Package cli implements the quantaframe command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dshills/QuantaFrame/internal/config"
	"github.com/dshills/QuantaFrame/internal/engine"
	"github.com/dshills/QuantaFrame/internal/engine/memexec"
	"github.com/dshills/QuantaFrame/internal/engine/streamexec"
	"github.com/dshills/QuantaFrame/internal/log"
)

// Version information, set by main.
var (
	Version = "0.1.0"
	Commit  = "unknown"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string // "text" | "json"

	cfg    *config.Config
	logger log.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quantaframe",
		Short: "Plan, optimize and run lazy dataframe pipelines",
		Long: `quantaframe reads a YAML pipeline, builds its logical plan, optimizes it
and runs it on the in-memory or streaming executor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewFlagsCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the configuration and builds the logger. Logs go to stderr so
// they never mix with results.
func (o *RootOptions) load(cmd *cobra.Command) error {
	var err error
	if o.ConfigPath != "" {
		if o.cfg, err = config.Load(o.ConfigPath); err != nil {
			return err
		}
	} else {
		o.cfg = config.Default()
		o.cfg.ApplyEnv()
		if err := o.cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if o.LogLevel != "" {
		o.cfg.Log.Level = o.LogLevel
	}
	o.logger = log.Build(o.cfg.Log, cmd.ErrOrStderr())
	return nil
}

// dispatcher builds a dispatcher over both executors.
func (o *RootOptions) dispatcher() (*engine.Dispatcher, error) {
	executors := []engine.Executor{
		memexec.New(memexec.WithBatchSize(o.cfg.Executor.BatchSize), memexec.WithLogger(o.logger)),
		streamexec.New(streamexec.WithLogger(o.logger)),
	}
	return engine.NewDispatcher(o.cfg, executors, engine.WithLogger(o.logger))
}

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "QuantaFrame v%s (commit: %s)\n", Version, Commit)
		},
	}
}
