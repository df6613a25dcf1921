package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// GCOptions holds flags for the gc command.
type GCOptions struct {
	*RootOptions
	Before uint64
	Force  bool
}

// GCResult is the JSON payload of the gc command.
type GCResult struct {
	Before  uint64 `json:"before"`
	Removed int    `json:"removed"`
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GCOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove superseded recovery entries",
		Long: `Remove entries that no resume at or after --before can load.

--before defaults to the store's resume epoch. Collecting past the resume
epoch can remove state the next run needs, so it requires --force.`,
		Example: `  epochflow gc --path ./recovery.db
  epochflow gc --backend pebble --path ./recovery --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Before, "before", 0, "collect entries superseded before this epoch (default: resume epoch)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "allow --before past the resume epoch")

	return cmd
}

func runGC(opts *GCOptions, cmd *cobra.Command) error {
	store, err := openStore(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	resume, err := store.ResumeEpoch()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read resume epoch", err)
	}

	before := resume.Epoch()
	if cmd.Flags().Changed("before") {
		before = recovery.Epoch(opts.Before)
	}
	if before > resume.Epoch() && !opts.Force {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--before %d is past the resume epoch %d; use --force to collect anyway", before, resume))
	}
	out.VerboseLog("Resume epoch: %d", resume)

	removed, err := store.GC(before)
	if err != nil {
		return WrapExitError(ExitFailure, "garbage collection failed", err)
	}

	if out.JSON() {
		return out.Success(GCResult{Before: uint64(before), Removed: removed})
	}
	out.Printf("Removed %d entries before epoch %d", removed, before)
	return nil
}
