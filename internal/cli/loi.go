package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/mutation"
)

// EditResult reports the mutation recorded for a local edit.
type EditResult struct {
	MutationID int64  `json:"mutation_id"`
	Type       string `json:"type"`
	Operation  string `json:"operation"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
}

func (r EditResult) String() string {
	return fmt.Sprintf("Queued mutation %d: %s %s %s (%s)", r.MutationID, r.Operation, r.Type, r.EntityID, r.Status)
}

func editResult(m model.Mutation) EditResult {
	return EditResult{
		MutationID: m.ID,
		Type:       string(m.EntityKind),
		Operation:  string(m.Operation),
		EntityID:   m.EntityID,
		Status:     string(m.SyncStatus),
	}
}

// LOIOptions holds flags for the loi subcommands.
type LOIOptions struct {
	*RootOptions
	Survey     string
	Job        string
	ID         string
	Lat        float64
	Lng        float64
	Area       string
	Tag        string
	Properties map[string]string
	Collection string
}

// NewLOICommand creates the loi command and its create, update and delete
// subcommands.
func NewLOICommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loi",
		Short: "Edit locations of interest",
		Long: `Create, update or delete a location of interest locally.

Each edit is applied to the local database and queued as a mutation for
the next sync.`,
	}

	cmd.AddCommand(newLOIEditCommand(rootOpts, model.OperationCreate))
	cmd.AddCommand(newLOIEditCommand(rootOpts, model.OperationUpdate))
	cmd.AddCommand(newLOIEditCommand(rootOpts, model.OperationDelete))
	return cmd
}

func newLOIEditCommand(rootOpts *RootOptions, op model.Operation) *cobra.Command {
	opts := &LOIOptions{RootOptions: rootOpts}

	var use, short, example string
	switch op {
	case model.OperationCreate:
		use, short = "create", "Add a location of interest"
		example = `  fieldsync loi create --survey wells --job inspect --lat 51.5 --lng -0.12
  fieldsync loi create --survey wells --job survey-area --area "0,0;0,1;1,1;0,0"`
	case model.OperationUpdate:
		use, short = "update", "Change a location of interest"
		example = `  fieldsync loi update --survey wells --job inspect --id loi-1 --tag W-17`
	case model.OperationDelete:
		use, short = "delete", "Delete a location of interest and its submissions"
		example = `  fieldsync loi delete --survey wells --job inspect --id loi-1`
	}

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Example:       example,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLOIEdit(opts, op, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Survey, "survey", "", "survey id (required)")
	cmd.Flags().StringVar(&opts.Job, "job", "", "job id (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "location of interest id")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "data collection session id")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("job")

	if op == model.OperationDelete {
		_ = cmd.MarkFlagRequired("id")
		return cmd
	}
	if op == model.OperationUpdate {
		_ = cmd.MarkFlagRequired("id")
	}

	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "point latitude")
	cmd.Flags().Float64Var(&opts.Lng, "lng", 0, "point longitude")
	cmd.Flags().StringVar(&opts.Area, "area", "", `polygon shell as "lat,lng;lat,lng;..."`)
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "custom tag")
	cmd.Flags().StringToStringVar(&opts.Properties, "prop", nil, "property key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("area", "lat")
	cmd.MarkFlagsMutuallyExclusive("area", "lng")
	cmd.MarkFlagsRequiredTogether("lat", "lng")

	return cmd
}

func runLOIEdit(opts *LOIOptions, op model.Operation, cmd *cobra.Command) error {
	geometry, err := loiGeometry(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid geometry", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	edit := mutation.LOIEdit{
		Operation:    op,
		SurveyID:     opts.Survey,
		JobID:        opts.Job,
		LOIID:        opts.ID,
		Geometry:     geometry,
		CustomTag:    opts.Tag,
		UserID:       a.cfg.UserID,
		CollectionID: opts.Collection,
	}
	if len(opts.Properties) > 0 {
		edit.Properties = opts.Properties
	}

	m, err := a.repo.ApplyLOIEdit(cmd.Context(), edit)
	if err != nil {
		return editError(opts.RootOptions, cmd, err)
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(editResult(m))
}

// loiGeometry returns the geometry given by --lat/--lng or --area, or nil when
// neither was set.
func loiGeometry(opts *LOIOptions, cmd *cobra.Command) (model.Geometry, error) {
	if opts.Area != "" {
		shell, err := parsePoints(opts.Area)
		if err != nil {
			return nil, err
		}
		return model.Polygon{Shell: shell}, nil
	}
	if cmd.Flags().Changed("lat") {
		return model.Point{Lat: opts.Lat, Lng: opts.Lng}, nil
	}
	return nil, nil
}

// editError reports a rejected edit in the configured format.
func editError(opts *RootOptions, cmd *cobra.Command, err error) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		_ = formatter.Error(ErrCodeEdit, err.Error())
	}
	return WrapExitError(ExitCommandError, "edit rejected", err)
}
