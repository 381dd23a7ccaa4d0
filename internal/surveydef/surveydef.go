// Package surveydef loads survey definitions written in CUE.
//
// A definition file declares surveys by id, each with its jobs and their ordered
// tasks:
//
//	survey: wells: {
//		title: "Well inspection"
//		job: inspect: {
//			name: "Inspect"
//			task: [
//				{id: "pin", type: "DROP_PIN", add_loi: true},
//				{id: "notes", type: "TEXT", label: "Notes"},
//			]
//		}
//	}
//
// Task indexes follow list order.
package surveydef

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/fieldsync/internal/model"
)

// Error codes reported in LoadError.Code.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeSurveyTitle   = "E201" // Missing title
	ErrCodeSurveyJobs    = "E202" // No jobs defined
	ErrCodeJobTasks      = "E203" // No tasks defined
	ErrCodeTaskType      = "E204" // Unknown task type
	ErrCodeTaskDuplicate = "E205" // Task id used twice in a job
	ErrCodeAddLOITask    = "E206" // Invalid add-location task
	ErrCodeTaskOptions   = "E207" // Invalid multiple choice options
	ErrCodeTaskField     = "E208" // Missing or mistyped task field
)

// LoadError is an error in a survey definition, with its CUE position when known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult contains the surveys loaded from a directory.
type LoadResult struct {
	Surveys   []model.Survey
	FileCount int
}

// LoadDir loads every survey declared in the CUE package in dir. All definition
// errors are collected; surveys with errors are left out of the result.
func LoadDir(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("survey directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing survey directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	surveys, errs := Compile(value)
	return &LoadResult{Surveys: surveys, FileCount: len(files)}, errs
}

// LoadString compiles survey definitions from CUE source.
func LoadString(src string) ([]model.Survey, []error) {
	return Compile(cuecontext.New().CompileString(src, cue.Filename("inline.cue")))
}

// Compile extracts every survey under the top-level "survey" field of v, ordered
// by survey id.
func Compile(v cue.Value) ([]model.Survey, []error) {
	if err := v.Validate(); err != nil {
		return nil, []error{cueError(ErrCodeBuildFailed, err)}
	}

	surveysVal := v.LookupPath(cue.ParsePath("survey"))
	if !surveysVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: "no surveys found"}}
	}
	iter, err := surveysVal.Fields()
	if err != nil {
		return nil, []error{cueError(ErrCodeGeneric, err)}
	}

	var surveys []model.Survey
	var errs []error
	for iter.Next() {
		survey, err := CompileSurvey(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		surveys = append(surveys, survey)
	}
	slices.SortFunc(surveys, func(a, b model.Survey) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return surveys, errs
}

// CompileSurvey converts one survey struct into a model.Survey.
func CompileSurvey(id string, v cue.Value) (model.Survey, error) {
	survey := model.Survey{ID: id, Jobs: make(map[string]model.Job)}

	title, ok, err := optionalString(v, "title")
	if err != nil {
		return survey, err
	}
	if !ok || title == "" {
		return survey, &LoadError{Code: ErrCodeSurveyTitle, Message: fmt.Sprintf("survey %s: title is required", id), Pos: v.Pos()}
	}
	survey.Title = title
	if survey.Description, _, err = optionalString(v, "description"); err != nil {
		return survey, err
	}

	jobsVal := v.LookupPath(cue.ParsePath("job"))
	if !jobsVal.Exists() {
		return survey, &LoadError{Code: ErrCodeSurveyJobs, Message: fmt.Sprintf("survey %s: at least one job is required", id), Pos: v.Pos()}
	}
	iter, err := jobsVal.Fields()
	if err != nil {
		return survey, cueError(ErrCodeGeneric, err)
	}
	for iter.Next() {
		job, err := compileJob(iter.Label(), iter.Value())
		if err != nil {
			return survey, err
		}
		survey.Jobs[job.ID] = job
	}
	if len(survey.Jobs) == 0 {
		return survey, &LoadError{Code: ErrCodeSurveyJobs, Message: fmt.Sprintf("survey %s: at least one job is required", id), Pos: v.Pos()}
	}
	return survey, nil
}

func compileJob(id string, v cue.Value) (model.Job, error) {
	job := model.Job{ID: id}
	var err error
	if job.Name, _, err = optionalString(v, "name"); err != nil {
		return job, err
	}

	tasksVal := v.LookupPath(cue.ParsePath("task"))
	if !tasksVal.Exists() {
		return job, &LoadError{Code: ErrCodeJobTasks, Message: fmt.Sprintf("job %s: at least one task is required", id), Pos: v.Pos()}
	}
	iter, err := tasksVal.List()
	if err != nil {
		return job, cueError(ErrCodeJobTasks, err)
	}

	seen := make(map[string]bool)
	addLOI := ""
	for i := 0; iter.Next(); i++ {
		task, err := compileTask(iter.Value(), i)
		if err != nil {
			return job, err
		}
		if seen[task.ID] {
			return job, &LoadError{Code: ErrCodeTaskDuplicate, Message: fmt.Sprintf("job %s: task %s is defined twice", id, task.ID), Pos: iter.Value().Pos()}
		}
		seen[task.ID] = true
		if task.AddLOITask {
			if addLOI != "" {
				return job, &LoadError{Code: ErrCodeAddLOITask, Message: fmt.Sprintf("job %s: tasks %s and %s both add locations", id, addLOI, task.ID), Pos: iter.Value().Pos()}
			}
			addLOI = task.ID
		}
		job.Tasks = append(job.Tasks, task)
	}
	if len(job.Tasks) == 0 {
		return job, &LoadError{Code: ErrCodeJobTasks, Message: fmt.Sprintf("job %s: at least one task is required", id), Pos: v.Pos()}
	}
	return job, nil
}

func compileTask(v cue.Value, index int) (model.Task, error) {
	task := model.Task{Index: index}

	id, ok, err := optionalString(v, "id")
	if err != nil {
		return task, err
	}
	if !ok || id == "" {
		return task, &LoadError{Code: ErrCodeTaskField, Message: fmt.Sprintf("task %d: id is required", index), Pos: v.Pos()}
	}
	task.ID = id

	typ, ok, err := optionalString(v, "type")
	if err != nil {
		return task, err
	}
	if !ok {
		return task, &LoadError{Code: ErrCodeTaskField, Message: fmt.Sprintf("task %s: type is required", id), Pos: v.Pos()}
	}
	if task.Type, err = model.ParseTaskType(typ); err != nil {
		return task, &LoadError{Code: ErrCodeTaskType, Message: fmt.Sprintf("task %s: %v", id, err), Pos: v.Pos()}
	}

	if task.Label, _, err = optionalString(v, "label"); err != nil {
		return task, err
	}
	if task.Required, err = optionalBool(v, "required"); err != nil {
		return task, err
	}
	if task.AddLOITask, err = optionalBool(v, "add_loi"); err != nil {
		return task, err
	}
	if task.AddLOITask && !task.Type.IsGeometry() {
		return task, &LoadError{Code: ErrCodeAddLOITask, Message: fmt.Sprintf("task %s: a %s task cannot add locations", id, task.Type), Pos: v.Pos()}
	}
	if task.AllowOther, err = optionalBool(v, "allow_other"); err != nil {
		return task, err
	}

	optionsVal := v.LookupPath(cue.ParsePath("options"))
	if optionsVal.Exists() {
		if task.Type != model.TaskTypeMultipleChoice {
			return task, &LoadError{Code: ErrCodeTaskOptions, Message: fmt.Sprintf("task %s: only MULTIPLE_CHOICE tasks have options", id), Pos: optionsVal.Pos()}
		}
		if task.Options, err = compileOptions(id, optionsVal); err != nil {
			return task, err
		}
	}
	if task.Type == model.TaskTypeMultipleChoice && len(task.Options) == 0 {
		return task, &LoadError{Code: ErrCodeTaskOptions, Message: fmt.Sprintf("task %s: at least one option is required", id), Pos: v.Pos()}
	}
	return task, nil
}

func compileOptions(taskID string, v cue.Value) ([]model.Option, error) {
	iter, err := v.List()
	if err != nil {
		return nil, cueError(ErrCodeTaskOptions, err)
	}
	var options []model.Option
	seen := make(map[string]bool)
	for iter.Next() {
		ov := iter.Value()
		var opt model.Option
		var ok bool
		if opt.ID, ok, err = optionalString(ov, "id"); err != nil {
			return nil, err
		}
		if !ok || opt.ID == "" || seen[opt.ID] {
			return nil, &LoadError{Code: ErrCodeTaskOptions, Message: fmt.Sprintf("task %s: options need unique ids", taskID), Pos: ov.Pos()}
		}
		seen[opt.ID] = true
		if opt.Code, _, err = optionalString(ov, "code"); err != nil {
			return nil, err
		}
		if opt.Label, _, err = optionalString(ov, "label"); err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, &LoadError{Code: ErrCodeTaskField, Message: fmt.Sprintf("%s must be a string", field), Pos: fv.Pos()}
	}
	return s, true, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &LoadError{Code: ErrCodeTaskField, Message: fmt.Sprintf("%s must be a bool", field), Pos: fv.Pos()}
	}
	return b, nil
}

// cueError extracts position info from CUE errors.
func cueError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
