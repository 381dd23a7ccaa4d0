package cli

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Survey string
	Status string
	Watch  bool
}

// MutationView is one row of the status listing.
type MutationView struct {
	ID              int64  `json:"id"`
	SurveyID        string `json:"survey_id"`
	Type            string `json:"type"`
	Operation       string `json:"operation"`
	EntityID        string `json:"entity_id"`
	LOIID           string `json:"loi_id,omitempty"`
	Status          string `json:"status"`
	RetryCount      int    `json:"retry_count"`
	ErrorCode       string `json:"error_code,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	ClientTimestamp string `json:"client_timestamp"`
}

// StatusResult is the mutation queue, oldest first.
type StatusResult struct {
	Mutations []MutationView `json:"mutations"`
}

func (r StatusResult) String() string {
	if len(r.Mutations) == 0 {
		return "No mutations."
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tOP\tENTITY\tSTATUS\tRETRIES\tERROR")
	for _, m := range r.Mutations {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			m.ID, m.Type, m.Operation, m.EntityID, m.Status, m.RetryCount, m.ErrorCode)
	}
	w.Flush()
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List queued and synced mutations",
		Long: `List the local mutation queue, oldest first.

With --watch the listing is printed again every time the queue changes,
until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Survey, "survey", "", "only mutations of this survey")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only mutations with this status (e.g. FAILED)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep printing the queue as it changes")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	var filter model.SyncStatus
	if opts.Status != "" {
		st, err := model.ParseSyncStatus(opts.Status)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --status", err)
		}
		filter = st
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if !opts.Watch {
		mutations, err := a.repo.Mutations(cmd.Context(), opts.Survey)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list mutations", err)
		}
		return formatter.Success(statusResult(mutations, filter))
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	updates, err := a.repo.Watch(ctx, opts.Survey)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to watch mutations", err)
	}
	for mutations := range updates {
		if opts.Format != "json" {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", time.Now().Format(time.TimeOnly))
		}
		if err := formatter.Success(statusResult(mutations, filter)); err != nil {
			return err
		}
	}
	if ctx.Err() == nil {
		return NewExitError(ExitFailure, "mutation watch stopped unexpectedly")
	}
	return nil
}

func statusResult(mutations []model.Mutation, filter model.SyncStatus) StatusResult {
	views := make([]MutationView, 0, len(mutations))
	for _, m := range mutations {
		if filter != "" && m.SyncStatus != filter {
			continue
		}
		views = append(views, MutationView{
			ID:              m.ID,
			SurveyID:        m.SurveyID,
			Type:            string(m.EntityKind),
			Operation:       string(m.Operation),
			EntityID:        m.EntityID,
			LOIID:           m.ParentEntityID,
			Status:          string(m.SyncStatus),
			RetryCount:      m.RetryCount,
			ErrorCode:       string(m.ErrorCode),
			LastError:       m.LastError,
			ClientTimestamp: m.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return StatusResult{Mutations: views}
}
