package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/mutation"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Survey     string
	Job        string
	LOI        string
	ID         string
	Operation  string
	Answers    []string
	Collection string
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record a submission for a location of interest",
		Long: `Create, update or delete a submission locally and queue it for sync.

Answers are given as task=value; an empty value clears the task. The
value format depends on the task type:

  TEXT              any text
  NUMBER            12.5
  DATE              2024-03-01 or RFC 3339
  TIME              14:30 or RFC 3339
  MULTIPLE_CHOICE   option ids separated by commas, other:<text> for free text
  PHOTO             file name in the media directory
  DROP_PIN          lat,lng
  CAPTURE_LOCATION  lat,lng[,accuracy[,altitude]]
  DRAW_AREA         lat,lng;lat,lng;... (closed ring)

Example:
  fieldsync submit --survey wells --job inspect --loi loi-1 \
    --answer condition=poor --answer front=IMG_0001.jpg --answer notes="dry"
  fieldsync submit --op update --survey wells --job inspect --loi loi-1 --id sub-1 \
    --answer notes=`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Survey, "survey", "", "survey id (required)")
	cmd.Flags().StringVar(&opts.Job, "job", "", "job id (required)")
	cmd.Flags().StringVar(&opts.LOI, "loi", "", "location of interest id (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "submission id (generated for create)")
	cmd.Flags().StringVar(&opts.Operation, "op", "create", "operation (create|update|delete)")
	cmd.Flags().StringArrayVarP(&opts.Answers, "answer", "a", nil, "answer as task=value (repeatable)")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "data collection session id")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("loi")

	return cmd
}

func runSubmit(opts *SubmitOptions, cmd *cobra.Command) error {
	op, err := parseOperation(opts.Operation)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --op", err)
	}
	if op != model.OperationCreate && opts.ID == "" {
		return NewExitError(ExitCommandError, fmt.Sprintf("--id is required for %s", opts.Operation))
	}
	if op == model.OperationDelete && len(opts.Answers) > 0 {
		return NewExitError(ExitCommandError, "--answer cannot be used with delete")
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	survey, err := a.store.GetSurvey(ctx, opts.Survey)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("survey %s not found locally (run pull first)", opts.Survey), err)
	}
	job, ok := survey.Job(opts.Job)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("survey %s has no job %s", opts.Survey, opts.Job))
	}
	deltas, err := parseAnswers(job, opts.Answers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid answer", err)
	}

	m, err := a.repo.ApplySubmissionEdit(ctx, mutation.SubmissionEdit{
		Operation:    op,
		SurveyID:     opts.Survey,
		JobID:        opts.Job,
		LOIID:        opts.LOI,
		SubmissionID: opts.ID,
		Deltas:       deltas,
		UserID:       a.cfg.UserID,
		CollectionID: opts.Collection,
	})
	if err != nil {
		return editError(opts.RootOptions, cmd, err)
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(editResult(m))
}

func parseOperation(s string) (model.Operation, error) {
	switch s {
	case "create":
		return model.OperationCreate, nil
	case "update":
		return model.OperationUpdate, nil
	case "delete":
		return model.OperationDelete, nil
	default:
		return "", fmt.Errorf("unknown operation %q: must be create, update or delete", s)
	}
}
