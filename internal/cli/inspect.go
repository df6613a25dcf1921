package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	At   uint64
	Step string
}

// InspectResult is the JSON payload of the inspect command.
type InspectResult struct {
	ResumeEpoch uint64          `json:"resume_epoch"`
	Fresh       bool            `json:"fresh"`
	Workers     []WorkerSummary `json:"workers"`
	Entries     []EntrySummary  `json:"entries"`
}

// WorkerSummary is one worker's recorded progress.
type WorkerSummary struct {
	Worker int    `json:"worker"`
	Epoch  uint64 `json:"epoch"`
}

// EntrySummary is the latest stored entry for one key.
type EntrySummary struct {
	Step  string `json:"step"`
	Key   string `json:"key"`
	Epoch uint64 `json:"epoch"`
	Kind  string `json:"kind"`
	Size  int    `json:"size"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the resume epoch, worker progress and stored state",
		Long: `Show what a run resuming from this store would see.

Without --at, lists the newest entry per key. With --at N, lists the
entry per key that a run resuming at epoch N would load.`,
		Example: `  epochflow inspect --path ./recovery.db
  epochflow inspect --backend pebble --path ./recovery --at 12 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.At, "at", uint64(changelog.Latest), "list entries as of this resume epoch")
	cmd.Flags().StringVar(&opts.Step, "step", "", "only list entries of this step")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	store, err := openStore(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	result, err := inspectStore(store, recovery.ResumeEpoch(opts.At), opts.Step)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read recovery store", err)
	}

	if out.JSON() {
		return out.Success(result)
	}
	return printInspect(out, result, opts.At)
}

func inspectStore(store changelog.Store, at recovery.ResumeEpoch, step string) (InspectResult, error) {
	resume, err := store.ResumeEpoch()
	if err != nil {
		return InspectResult{}, err
	}
	progress, err := store.Progress()
	if err != nil {
		return InspectResult{}, err
	}
	infos, err := store.List(at)
	if err != nil {
		return InspectResult{}, err
	}

	result := InspectResult{
		ResumeEpoch: uint64(resume),
		Fresh:       resume.Fresh(),
		Workers:     make([]WorkerSummary, 0, len(progress)),
		Entries:     make([]EntrySummary, 0, len(infos)),
	}
	for _, p := range progress {
		result.Workers = append(result.Workers, WorkerSummary{Worker: int(p.Worker), Epoch: uint64(p.Epoch)})
	}
	for _, info := range infos {
		if step != "" && string(info.Key.Step) != step {
			continue
		}
		result.Entries = append(result.Entries, EntrySummary{
			Step:  string(info.Key.Step),
			Key:   string(info.Key.Key),
			Epoch: uint64(info.Epoch),
			Kind:  info.Kind.String(),
			Size:  info.Size,
		})
	}
	return result, nil
}

func printInspect(out *OutputFormatter, result InspectResult, at uint64) error {
	if result.Fresh {
		out.Printf("Resume epoch: %d (fresh)", result.ResumeEpoch)
	} else {
		out.Printf("Resume epoch: %d", result.ResumeEpoch)
	}

	out.Printf("")
	out.Printf("Workers: %d", len(result.Workers))
	for _, w := range result.Workers {
		out.Printf("  worker %d: epoch %d", w.Worker, w.Epoch)
	}

	out.Printf("")
	if at == uint64(changelog.Latest) {
		out.Printf("Entries: %d", len(result.Entries))
	} else {
		out.Printf("Entries before epoch %d: %d", at, len(result.Entries))
	}
	if len(result.Entries) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	out.VerboseLog("  (size is the encoded state in bytes)")
	for _, e := range result.Entries {
		fmt.Fprintf(tw, "  %s/%s\tepoch %d\t%s\t%d bytes\n", e.Step, e.Key, e.Epoch, e.Kind, e.Size)
	}
	return tw.Flush()
}
