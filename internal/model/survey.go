package model

import "fmt"

// TaskType is the kind of answer a task collects.
type TaskType string

const (
	TaskTypeText            TaskType = "TEXT"
	TaskTypeNumber          TaskType = "NUMBER"
	TaskTypeDate            TaskType = "DATE"
	TaskTypeTime            TaskType = "TIME"
	TaskTypeMultipleChoice  TaskType = "MULTIPLE_CHOICE"
	TaskTypePhoto           TaskType = "PHOTO"
	TaskTypeDropPin         TaskType = "DROP_PIN"
	TaskTypeDrawArea        TaskType = "DRAW_AREA"
	TaskTypeCaptureLocation TaskType = "CAPTURE_LOCATION"
)

var taskTypes = []TaskType{
	TaskTypeText,
	TaskTypeNumber,
	TaskTypeDate,
	TaskTypeTime,
	TaskTypeMultipleChoice,
	TaskTypePhoto,
	TaskTypeDropPin,
	TaskTypeDrawArea,
	TaskTypeCaptureLocation,
}

// ParseTaskType converts a type tag into a TaskType.
func ParseTaskType(s string) (TaskType, error) {
	for _, t := range taskTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// IsGeometry reports whether answers to this task type are geometries.
func (t TaskType) IsGeometry() bool {
	switch t {
	case TaskTypeDropPin, TaskTypeDrawArea, TaskTypeCaptureLocation:
		return true
	}
	return false
}

// Survey is a data collection campaign: a set of jobs run against locations of interest.
type Survey struct {
	ID          string         `wire:"1"`
	Title       string         `wire:"2"`
	Description string         `wire:"3"`
	Jobs        map[string]Job `wire:"4"`
}

// Job returns the job with the given id.
func (s Survey) Job(id string) (Job, bool) {
	j, ok := s.Jobs[id]
	return j, ok
}

// Job is one kind of data collection within a survey, defined by its ordered tasks.
type Job struct {
	ID    string `wire:"1"`
	Name  string `wire:"2"`
	Tasks []Task `wire:"3"`
}

// Task returns the task with the given id.
func (j Job) Task(id string) (Task, bool) {
	for _, t := range j.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// AddLOITask returns the task whose answer defines the geometry of a new
// location of interest, if the job has one.
func (j Job) AddLOITask() (Task, bool) {
	for _, t := range j.Tasks {
		if t.AddLOITask {
			return t, true
		}
	}
	return Task{}, false
}

// Task is a single question in a job.
type Task struct {
	ID         string   `wire:"1"`
	Index      int      `wire:"2"`
	Type       TaskType `wire:"3,enum"`
	Label      string   `wire:"4"`
	Required   bool     `wire:"5"`
	AddLOITask bool     `wire:"6"`
	Options    []Option `wire:"7"`
	AllowOther bool     `wire:"8"`
}

// Option is one choice of a multiple choice task.
type Option struct {
	ID    string `wire:"1"`
	Code  string `wire:"2"`
	Label string `wire:"3"`
}
