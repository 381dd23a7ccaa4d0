package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/fieldsync/internal/model"
)

// Version is the envelope version written by Encode.
const Version = 1

// ErrUnsupportedVersion is returned by Decode for envelopes written by a newer codec.
var ErrUnsupportedVersion = errors.New("unsupported delta version")

// SkipReason classifies why a delta entry was dropped during decoding.
type SkipReason string

const (
	SkipUnknownTask  SkipReason = "UNKNOWN_TASK"
	SkipTypeMismatch SkipReason = "TYPE_MISMATCH"
	SkipCorruptEntry SkipReason = "CORRUPT_ENTRY"
)

// Skip describes one dropped entry.
type Skip struct {
	TaskID string
	Reason SkipReason
	Detail string
}

func (s Skip) String() string {
	if s.Detail == "" {
		return fmt.Sprintf("%s: %s", s.TaskID, s.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", s.TaskID, s.Reason, s.Detail)
}

// Result is the outcome of decoding a delta payload.
type Result struct {
	// Deltas are the successfully decoded entries, ordered by task index in the job.
	Deltas []model.ValueDelta

	// Skipped lists the dropped entries, ordered by task id.
	Skipped []Skip
}

type entry struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type envelope struct {
	Version int                        `json:"version"`
	Deltas  map[string]json.RawMessage `json:"deltas"`
}

// Encode serializes deltas into the versioned textual form.
//
// The order of the input is not significant. If a task id appears more than once
// the last entry wins. A value whose type does not match its delta's task type is
// an error: encoding only ever sees freshly made local edits.
func Encode(deltas []model.ValueDelta) (string, error) {
	byTask := make(map[string]model.ValueDelta, len(deltas))
	for _, d := range deltas {
		if d.TaskID == "" {
			return "", fmt.Errorf("encode delta: empty task id")
		}
		if d.Value != nil && d.Value.TaskType() != d.TaskType {
			return "", fmt.Errorf("encode delta %s: value of type %s for task type %s",
				d.TaskID, d.Value.TaskType(), d.TaskType)
		}
		byTask[d.TaskID] = d
	}

	taskIDs := make([]string, 0, len(byTask))
	for id := range byTask {
		taskIDs = append(taskIDs, id)
	}
	slices.Sort(taskIDs)

	var buf bytes.Buffer
	buf.WriteString(`{"deltas":{`)
	for i, id := range taskIDs {
		if i > 0 {
			buf.WriteByte(',')
		}
		d := byTask[id]
		key, err := marshalString(id)
		if err != nil {
			return "", fmt.Errorf("encode delta %s: %w", id, err)
		}
		val, err := encodeValue(d.Value)
		if err != nil {
			return "", fmt.Errorf("encode delta %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteString(`:{"type":`)
		typ, err := marshalString(string(d.TaskType))
		if err != nil {
			return "", fmt.Errorf("encode delta %s: %w", id, err)
		}
		buf.Write(typ)
		buf.WriteString(`,"value":`)
		buf.Write(val)
		buf.WriteByte('}')
	}
	fmt.Fprintf(&buf, `},"version":%d}`, Version)
	return buf.String(), nil
}

// Decode reads a delta payload written against job.
//
// A nil payload decodes to an empty result. An error is returned only when the
// payload as a whole is unreadable (not JSON, or an unsupported version); single
// bad entries are skipped, logged and listed in Result.Skipped.
func Decode(job model.Job, payload *string) (Result, error) {
	return DecodeWithLogger(slog.Default(), job, payload)
}

// DecodeWithLogger is Decode with an explicit logger for skipped entries.
func DecodeWithLogger(logger *slog.Logger, job model.Job, payload *string) (Result, error) {
	var res Result
	if payload == nil || strings.TrimSpace(*payload) == "" {
		return res, nil
	}

	var env envelope
	dec := json.NewDecoder(strings.NewReader(*payload))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return res, fmt.Errorf("decode delta envelope: %w", err)
	}
	if env.Version > Version {
		return res, fmt.Errorf("decode delta envelope: %w: %d", ErrUnsupportedVersion, env.Version)
	}

	taskIDs := make([]string, 0, len(env.Deltas))
	for id := range env.Deltas {
		taskIDs = append(taskIDs, id)
	}
	slices.Sort(taskIDs)

	for _, id := range taskIDs {
		d, skip := decodeEntry(job, id, env.Deltas[id])
		if skip != nil {
			logger.Warn("dropping delta entry",
				"job_id", job.ID,
				"task_id", skip.TaskID,
				"reason", skip.Reason,
				"detail", skip.Detail,
			)
			res.Skipped = append(res.Skipped, *skip)
			continue
		}
		res.Deltas = append(res.Deltas, d)
	}

	slices.SortStableFunc(res.Deltas, func(a, b model.ValueDelta) int {
		ta, _ := job.Task(a.TaskID)
		tb, _ := job.Task(b.TaskID)
		if ta.Index != tb.Index {
			return ta.Index - tb.Index
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return res, nil
}

func decodeEntry(job model.Job, taskID string, raw json.RawMessage) (model.ValueDelta, *Skip) {
	task, ok := job.Task(taskID)
	if !ok {
		return model.ValueDelta{}, &Skip{TaskID: taskID, Reason: SkipUnknownTask}
	}

	var e entry
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return model.ValueDelta{}, &Skip{TaskID: taskID, Reason: SkipCorruptEntry, Detail: err.Error()}
	}
	if e.Type != string(task.Type) {
		return model.ValueDelta{}, &Skip{
			TaskID: taskID,
			Reason: SkipTypeMismatch,
			Detail: fmt.Sprintf("entry type %q, task type %q", e.Type, task.Type),
		}
	}

	d := model.ValueDelta{TaskID: taskID, TaskType: task.Type}
	if isNull(e.Value) {
		return d, nil
	}
	v, err := decodeValue(task.Type, e.Value)
	if err != nil {
		return model.ValueDelta{}, &Skip{TaskID: taskID, Reason: SkipCorruptEntry, Detail: err.Error()}
	}
	d.Value = v
	return d, nil
}

// Apply folds deltas into a submission's answer map. A nil value removes the answer.
// The input map is not modified.
func Apply(data map[string]model.Value, deltas []model.ValueDelta) map[string]model.Value {
	out := make(map[string]model.Value, len(data)+len(deltas))
	for k, v := range data {
		out[k] = v
	}
	for _, d := range deltas {
		if d.Value == nil {
			delete(out, d.TaskID)
			continue
		}
		out[d.TaskID] = d.Value
	}
	return out
}

// FromData converts a full answer map into deltas, one per answered task.
func FromData(job model.Job, data map[string]model.Value) []model.ValueDelta {
	deltas := make([]model.ValueDelta, 0, len(data))
	for id, v := range data {
		typ := v.TaskType()
		if t, ok := job.Task(id); ok {
			typ = t.Type
		}
		deltas = append(deltas, model.ValueDelta{TaskID: id, TaskType: typ, Value: v})
	}
	slices.SortFunc(deltas, func(a, b model.ValueDelta) int {
		return strings.Compare(a.TaskID, b.TaskID)
	})
	return deltas
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
