package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/ids"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/mutation"
	"github.com/roach88/fieldsync/internal/remote"
	"github.com/roach88/fieldsync/internal/store"
	"github.com/roach88/fieldsync/internal/surveydef"
	"github.com/roach88/fieldsync/internal/surveysync"
	"github.com/roach88/fieldsync/internal/testutil"
	"github.com/roach88/fieldsync/internal/worker"
)

// Epoch is the first timestamp handed out by the scenario clock. Every edit
// advances the clock by one second.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const defaultUserID = "test-user"

// errBadArgs marks scenario argument errors. They abort the run instead of
// being reported as a step outcome.
var errBadArgs = errors.New("bad step arguments")

// Harness is the test execution engine.
// It runs scenarios against a fresh store and fake remotes with a
// deterministic clock and id generator.
type Harness struct {
	store    *store.Store
	repo     *mutation.Repository
	surveys  map[string]model.Survey
	remote   *testutil.FakeRemote
	blobs    *testutil.FakeBlobStore
	pull     *surveysync.Service
	metadata *worker.MetadataWorker
	media    *worker.MediaWorker
	mediaDir string
	userID   string
	logger   *slog.Logger

	// Remote calls already copied into the trace.
	commitsSeen int
	uploadsSeen int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Compile the survey definitions and publish them to the fake remote
// 2. Pull every survey into the local store
// 3. Create the scenario's media files
// 4. Execute flow steps with expect validation
// 5. Evaluate assertions and return the result with trace and errors
func Run(scenario *Scenario) (*Result, error) {
	loaded, errs := surveydef.LoadDir(scenario.Surveys)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load surveys: %w", errors.Join(errs...))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	st, err := store.Open(":memory:", store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	mediaDir, err := os.MkdirTemp("", "fieldsync-media-")
	if err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	defer os.RemoveAll(mediaDir)

	fake := testutil.NewFakeRemote()
	surveys := make(map[string]model.Survey, len(loaded.Surveys))
	for _, s := range loaded.Surveys {
		if err := fake.SeedSurvey(s); err != nil {
			return nil, fmt.Errorf("failed to publish survey %s: %w", s.ID, err)
		}
		surveys[s.ID] = s
	}

	repo := mutation.NewRepository(st,
		mutation.WithClock(testutil.NewStepClock(Epoch, time.Second)),
		mutation.WithIDGenerator(ids.NewSequenceGenerator("gen")),
		mutation.WithMediaDir(mediaDir),
		mutation.WithLogger(logger),
	)
	blobs := testutil.NewFakeBlobStore()

	userID := scenario.UserID
	if userID == "" {
		userID = defaultUserID
	}

	h := &Harness{
		store:    st,
		repo:     repo,
		surveys:  surveys,
		remote:   fake,
		blobs:    blobs,
		pull:     surveysync.New(fake, st, nil, surveysync.WithLogger(logger)),
		metadata: worker.NewMetadataWorker(repo, remote.NewApplier(fake, remote.NewCodec(), st), worker.WithMetadataLogger(logger)),
		media:    worker.NewMediaWorker(repo, blobs, worker.WithMediaLogger(logger)),
		mediaDir: mediaDir,
		userID:   userID,
		logger:   logger,
	}

	ctx := context.Background()

	for _, s := range loaded.Surveys {
		if _, err := h.pull.Sync(ctx, s.ID); err != nil {
			return nil, fmt.Errorf("failed to pull survey %s: %w", s.ID, err)
		}
	}

	for _, name := range scenario.Media {
		if err := os.WriteFile(filepath.Join(mediaDir, name), []byte("photo:"+name), 0o600); err != nil {
			return nil, fmt.Errorf("failed to create media file %s: %w", name, err)
		}
	}

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	mutations, err := repo.Mutations(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read mutations: %w", err)
	}
	for _, m := range mutations {
		result.Mutations = append(result.Mutations, MutationState{
			ID:         m.ID,
			Type:       string(m.EntityKind),
			Operation:  string(m.Operation),
			EntityID:   m.EntityID,
			Status:     string(m.SyncStatus),
			RetryCount: m.RetryCount,
			ErrorCode:  string(m.ErrorCode),
		})
	}

	actx := &AssertionContext{
		Store:  st,
		Ctx:    ctx,
		Remote: fake,
		Blobs:  blobs,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step is traced, followed by the commits and uploads it caused.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		outcome, err := h.execute(ctx, step)
		if errors.Is(err, errBadArgs) {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}

		event := TraceEvent{
			Type:   EventStep,
			Action: step.Invoke,
			Args:   step.Args,
			Case:   outcome,
		}
		if err != nil {
			event.Error = err.Error()
		}
		result.AddEvent(event)
		h.collectRemoteCalls(result)

		h.checkExpect(i, step, outcome, err, result)

		h.logger.Info("flow step completed",
			"step", i,
			"action", step.Invoke,
			"case", outcome,
		)
	}
	return nil
}

func (h *Harness) checkExpect(index int, step FlowStep, outcome string, err error, result *Result) {
	if step.Expect == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", index, step.Invoke, err))
		}
		return
	}
	if outcome != step.Expect.Case {
		msg := fmt.Sprintf("flow[%d] %s: expected case %q, got %q", index, step.Invoke, step.Expect.Case, outcome)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
		return
	}
	if step.Expect.Error != "" && (err == nil || !strings.Contains(err.Error(), step.Expect.Error)) {
		result.AddError(fmt.Sprintf("flow[%d] %s: expected error containing %q, got %v",
			index, step.Invoke, step.Expect.Error, err))
	}
}

// collectRemoteCalls appends the commits and uploads made since the last call.
func (h *Harness) collectRemoteCalls(result *Result) {
	commits := h.remote.Commits()
	for _, c := range commits[h.commitsSeen:] {
		event := TraceEvent{Type: EventCommit, Action: EventCommit}
		for _, w := range c.Writes {
			event.Writes = append(event.Writes, TraceWrite{Op: string(w.Op), Path: w.Path})
		}
		if c.Err != nil {
			event.Error = c.Err.Error()
		}
		result.AddEvent(event)
	}
	h.commitsSeen = len(commits)

	uploads := h.blobs.Attempts()
	for _, p := range uploads[h.uploadsSeen:] {
		event := TraceEvent{Type: EventUpload, Action: EventUpload, Path: p}
		if _, ok := h.blobs.Object(p); !ok {
			event.Error = "not stored"
		}
		result.AddEvent(event)
	}
	h.uploadsSeen = len(uploads)
}

// execute runs one step. It returns the step's case and, for edits, the
// error that made it fail.
func (h *Harness) execute(ctx context.Context, step FlowStep) (string, error) {
	switch step.Invoke {
	case ActionSync:
		return h.metadata.Run(ctx).String(), nil
	case ActionUploadMedia:
		return h.media.Run(ctx).String(), nil
	}

	err := h.apply(ctx, step)
	if errors.Is(err, errBadArgs) {
		return "", err
	}
	if err != nil {
		return CaseError, err
	}
	return CaseOK, nil
}

func (h *Harness) apply(ctx context.Context, step FlowStep) error {
	args := step.Args
	switch step.Invoke {
	case ActionCreateLOI, ActionUpdateLOI, ActionDeleteLOI:
		edit, err := h.loiEdit(step.Invoke, args)
		if err != nil {
			return err
		}
		_, err = h.repo.ApplyLOIEdit(ctx, edit)
		return err

	case ActionSubmit, ActionUpdateSubmission, ActionDeleteSubmission:
		edit, err := h.submissionEdit(step.Invoke, args)
		if err != nil {
			return err
		}
		_, err = h.repo.ApplySubmissionEdit(ctx, edit)
		return err

	case ActionPullSurvey:
		surveyID, err := stringArg(args, "survey")
		if err != nil {
			return err
		}
		_, err = h.pull.Sync(ctx, surveyID)
		return err

	case ActionFailCommit:
		cause, err := injectedError(args)
		if err != nil {
			return err
		}
		if path, ok := args["path"]; ok {
			p, ok := path.(string)
			if !ok {
				return fmt.Errorf("%w: path must be a string", errBadArgs)
			}
			h.remote.FailPath(p, cause)
			return nil
		}
		h.remote.FailNextCommit(cause)
		return nil

	case ActionFailUpload:
		cause, err := injectedError(args)
		if err != nil {
			return err
		}
		surveyID, err := stringArg(args, "survey")
		if err != nil {
			return err
		}
		photo, err := stringArg(args, "photo")
		if err != nil {
			return err
		}
		h.blobs.FailUpload(model.PhotoRemotePath(surveyID, photo), cause)
		return nil

	case ActionClearFailures:
		h.remote.ClearFailures()
		h.blobs.ClearFailures()
		return nil

	case ActionRemoveMedia:
		file, err := stringArg(args, "file")
		if err != nil {
			return err
		}
		if filepath.Base(file) != file {
			return fmt.Errorf("%w: file %q must be a plain file name", errBadArgs, file)
		}
		return os.Remove(filepath.Join(h.mediaDir, file))

	default:
		return fmt.Errorf("%w: unknown action %q", errBadArgs, step.Invoke)
	}
}

func (h *Harness) loiEdit(action string, args map[string]interface{}) (mutation.LOIEdit, error) {
	var edit mutation.LOIEdit
	var err error
	if edit.SurveyID, err = stringArg(args, "survey"); err != nil {
		return edit, err
	}
	if edit.JobID, err = stringArg(args, "job"); err != nil {
		return edit, err
	}
	if edit.LOIID, err = stringArg(args, "loi"); err != nil {
		return edit, err
	}
	edit.UserID = h.userID

	switch action {
	case ActionCreateLOI:
		edit.Operation = model.OperationCreate
	case ActionUpdateLOI:
		edit.Operation = model.OperationUpdate
	default:
		edit.Operation = model.OperationDelete
		return edit, nil
	}

	if tag, ok := args["tag"]; ok {
		s, ok := tag.(string)
		if !ok {
			return edit, fmt.Errorf("%w: tag must be a string", errBadArgs)
		}
		edit.CustomTag = s
	}
	_, hasLat := args["lat"]
	_, hasLng := args["lng"]
	if hasLat || hasLng {
		p, err := pointArg(args)
		if err != nil {
			return edit, err
		}
		edit.Geometry = p
	}
	return edit, nil
}

func (h *Harness) submissionEdit(action string, args map[string]interface{}) (mutation.SubmissionEdit, error) {
	var edit mutation.SubmissionEdit
	var err error
	if edit.SurveyID, err = stringArg(args, "survey"); err != nil {
		return edit, err
	}
	if edit.JobID, err = stringArg(args, "job"); err != nil {
		return edit, err
	}
	if edit.LOIID, err = stringArg(args, "loi"); err != nil {
		return edit, err
	}
	if edit.SubmissionID, err = stringArg(args, "submission"); err != nil {
		return edit, err
	}
	edit.UserID = h.userID

	switch action {
	case ActionSubmit:
		edit.Operation = model.OperationCreate
	case ActionUpdateSubmission:
		edit.Operation = model.OperationUpdate
	default:
		edit.Operation = model.OperationDelete
		return edit, nil
	}

	raw, ok := args["answers"]
	if !ok {
		return edit, nil
	}
	answers, ok := raw.(map[string]interface{})
	if !ok {
		return edit, fmt.Errorf("%w: answers must be a map", errBadArgs)
	}

	// Unknown surveys and jobs are reported by the repository.
	job, _ := h.surveys[edit.SurveyID].Job(edit.JobID)
	edit.Deltas, err = answerDeltas(job, answers)
	return edit, err
}
