package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/remote/docstore"
)

// SeedResult lists the surveys published to the remote document store.
type SeedResult struct {
	Surveys []string `json:"surveys"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("Seeded %d survey(s): %s", len(r.Surveys), strings.Join(r.Surveys, ", "))
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <surveys-dir>",
		Short: "Publish survey definitions to the remote document store",
		Long: `Load the CUE survey definitions in a directory and publish them to the
remote document store, replacing any earlier version of the same surveys.

Nothing is published unless every definition is valid.

Example:
  fieldsync seed ./surveys
  fieldsync pull wells`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSeed(opts *RootOptions, surveysDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Log:     cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	surveys, err := loadSurveys(formatter, surveysDir)
	if err != nil {
		return err
	}

	docs, err := docstore.Open(cfg.Remote.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open remote document store", err)
	}
	defer docs.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, survey := range surveys {
		if err := docs.SeedSurvey(ctx, survey); err != nil {
			return WrapExitError(ExitCommandError, "failed to seed survey", err)
		}
		formatter.Logf("Published %s", survey.ID)
	}

	return formatter.Success(SeedResult{Surveys: surveyIDs(surveys)})
}
