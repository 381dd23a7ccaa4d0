package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/mutation"
	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/worker"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Attempts int
}

// SyncResult reports what is still owed to the remote after a sync.
type SyncResult struct {
	Metadata int `json:"metadata_pending"`
	Media    int `json:"media_pending"`
	Stuck    int `json:"media_missing"`
}

func (r SyncResult) String() string {
	if r.Metadata == 0 && r.Media == 0 && r.Stuck == 0 {
		return "✓ All mutations synced"
	}
	return fmt.Sprintf("Sync finished: %d mutation(s) awaiting metadata sync, %d awaiting media upload, %d with missing media",
		r.Metadata, r.Media, r.Stuck)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync queued mutations and upload their photos",
		Long: `Apply every queued mutation to the remote document store, one location
of interest at a time, then upload the photos of the submissions that
landed.

A failed group is retried with the configured backoff, up to --attempts
runs. Photos whose local file is missing are reported and not retried.

Exit codes:
  0 - Everything synced
  1 - Mutations or photos left unsynced
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Attempts, "attempts", 3, "maximum runs of each worker (0 retries until interrupted)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	if opts.Attempts < 0 {
		return NewExitError(ExitCommandError, "--attempts must not be negative")
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	before, err := a.repo.Pending(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read mutation queue", err)
	}

	a.cfg.Scheduler.Backoff.MaxAttempts = opts.Attempts
	sched := a.newScheduler(ctx)
	defer sched.Close()

	metadata, media := a.workers(sched)
	sched.Enqueue(worker.MetadataWorkName, scheduler.KeepExisting, metadata.Run)
	if before.Media > 0 {
		sched.Enqueue(worker.MediaWorkName, scheduler.Append, media.Run)
	}
	if err := sched.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync interrupted", err)
	}

	after, err := a.repo.Pending(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read mutation queue", err)
	}
	return reportSync(opts.RootOptions, cmd, after)
}

func reportSync(opts *RootOptions, cmd *cobra.Command, pending mutation.PendingCounts) error {
	result := SyncResult{Metadata: pending.Metadata, Media: pending.Media, Stuck: pending.Stuck}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if result.Metadata == 0 && result.Media == 0 && result.Stuck == 0 {
		return formatter.Success(result)
	}
	_ = formatter.Incomplete(ErrCodeSync, result.String(), result)
	return NewExitError(ExitFailure, result.String())
}
