// Package cli implements the epochflow command line tool for inspecting
// and compacting recovery stores.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/epochflow/pkg/epochflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	Backend string
	Path    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the epochflow CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "epochflow",
		Short: "Inspect and compact epochflow recovery stores",
		Long: "epochflow reads the recovery store a dataflow run writes to: the epoch\n" +
			"the next run resumes from, each worker's progress and the stored state.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "run config file to read the recovery settings from")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", changelog.BackendSQLite,
		fmt.Sprintf("recovery backend (%v)", changelog.Backends()))
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "recovery store path (sqlite file or pebble directory)")

	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewGCCommand(opts))

	return cmd
}

// openStore opens the store named by the flags. Settings from --config
// apply unless the matching flag was set explicitly.
func openStore(opts *RootOptions, cmd *cobra.Command) (changelog.Store, error) {
	backend, path := opts.Backend, opts.Path

	if opts.Config != "" {
		cfg, err := config.FromFile(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		settings, err := epochflow.SettingsFromConfig(cfg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid config", err)
		}
		if !cmd.Flags().Changed("backend") {
			backend = settings.Backend
		}
		if !cmd.Flags().Changed("path") {
			path = settings.Path
		}
	}

	if backend != changelog.BackendMemory && path == "" {
		return nil, NewExitError(ExitCommandError, "--path is required for the "+backend+" backend")
	}

	store, err := changelog.Open(backend, path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open recovery store", err)
	}
	return store, nil
}
