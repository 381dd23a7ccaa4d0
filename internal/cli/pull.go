package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/remote/docstore"
	"github.com/roach88/fieldsync/internal/scheduler"
	"github.com/roach88/fieldsync/internal/surveysync"
)

// PullResult reports one survey pull.
type PullResult struct {
	SurveyID string `json:"survey_id"`
	Updated  int    `json:"updated"`
	Kept     int    `json:"kept"`
	Removed  int    `json:"removed"`
}

func (r PullResult) String() string {
	return fmt.Sprintf("Pulled %s: %d location(s) updated, %d kept with local edits, %d removed",
		r.SurveyID, r.Updated, r.Kept, r.Removed)
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <survey-id>",
		Short: "Pull a survey and its locations of interest",
		Long: `Pull a survey definition and its locations of interest from the remote
document store into the local database.

Locations with local edits that have not synced yet are left untouched.
Transient remote errors are retried with the configured backoff.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runPull(opts *RootOptions, surveyID string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	sched := a.newScheduler(ctx)
	defer sched.Close()
	svc := a.surveySync(sched)

	// Written by the job, read after Wait.
	var (
		summary surveysync.Summary
		syncErr error
	)
	sched.Enqueue(surveysync.WorkName(surveyID), scheduler.Append, func(ctx context.Context) scheduler.Result {
		summary, syncErr = svc.Sync(ctx, surveyID)
		switch {
		case syncErr == nil:
			return scheduler.Success
		case errors.Is(syncErr, docstore.ErrNotFound):
			return scheduler.Failure
		default:
			a.logger.Warn("survey pull failed", "survey_id", surveyID, "error", syncErr)
			return scheduler.Retry
		}
	})
	if err := sched.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "pull interrupted", err)
	}

	if syncErr != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to pull survey %s", surveyID), syncErr)
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(PullResult{
		SurveyID: summary.SurveyID,
		Updated:  summary.Updated,
		Kept:     summary.Kept,
		Removed:  summary.Removed,
	})
}
