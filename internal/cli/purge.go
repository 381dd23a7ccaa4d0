package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Completed bool
	Failed    bool
}

// PurgeResult counts deleted mutations.
type PurgeResult struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (r PurgeResult) String() string {
	return fmt.Sprintf("Purged %d completed and %d failed mutation(s)", r.Completed, r.Failed)
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished mutations from the queue",
		Long: `Delete mutations from the local queue.

--completed removes mutations the remote has confirmed. --failed removes
failed mutations, whose edits will then never reach the remote.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Completed, "completed", false, "delete COMPLETED mutations")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "delete FAILED and FAILED_MEDIA_UPLOAD mutations")
	cmd.MarkFlagsOneRequired("completed", "failed")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var result PurgeResult
	if opts.Completed {
		if result.Completed, err = a.repo.PurgeCompleted(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to purge completed mutations", err)
		}
	}
	if opts.Failed {
		if result.Failed, err = a.repo.PurgeFailed(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to purge failed mutations", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(result)
}
