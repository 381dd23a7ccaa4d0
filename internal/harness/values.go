package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/testutil"
)

// stringArg returns a required string argument.
func stringArg(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", errBadArgs, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", errBadArgs, key, v)
	}
	return s, nil
}

// pointArg reads the lat and lng arguments.
func pointArg(args map[string]interface{}) (model.Point, error) {
	lat, err := toFloat(args["lat"])
	if err != nil {
		return model.Point{}, fmt.Errorf("%w: lat: %v", errBadArgs, err)
	}
	lng, err := toFloat(args["lng"])
	if err != nil {
		return model.Point{}, fmt.Errorf("%w: lng: %v", errBadArgs, err)
	}
	return model.Point{Lat: lat, Lng: lng}, nil
}

// injectedError builds the error a failure injection step installs.
func injectedError(args map[string]interface{}) (error, error) {
	msg, err := stringArg(args, "error")
	if err != nil {
		return nil, err
	}
	return fmt.Errorf("%w: %s", testutil.ErrInjected, msg), nil
}

// answerDeltas converts scenario answers into deltas, ordered by task id.
// A null answer clears the task.
func answerDeltas(job model.Job, answers map[string]interface{}) ([]model.ValueDelta, error) {
	taskIDs := make([]string, 0, len(answers))
	for id := range answers {
		taskIDs = append(taskIDs, id)
	}
	slices.Sort(taskIDs)

	deltas := make([]model.ValueDelta, 0, len(taskIDs))
	for _, id := range taskIDs {
		task, ok := job.Task(id)
		if !ok {
			return nil, fmt.Errorf("%w: job %q has no task %q", errBadArgs, job.ID, id)
		}
		v, err := answerValue(task, answers[id])
		if err != nil {
			return nil, fmt.Errorf("%w: answer %s: %v", errBadArgs, id, err)
		}
		deltas = append(deltas, model.ValueDelta{TaskID: id, TaskType: task.Type, Value: v})
	}
	return deltas, nil
}

// answerValue converts a YAML-parsed answer to the value type of task.
//
// Shapes:
//
//	TEXT, PHOTO                "string"
//	NUMBER                     1.5
//	DATE, TIME                 unix milliseconds
//	MULTIPLE_CHOICE            [option ids] or {selected: [...], other: "text"}
//	DROP_PIN, CAPTURE_LOCATION {lat: 1, lng: 2}
//	DRAW_AREA                  [{lat: 1, lng: 2}, ...]
func answerValue(task model.Task, raw interface{}) (model.Value, error) {
	if raw == nil {
		return nil, nil
	}

	switch task.Type {
	case model.TaskTypeText:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", raw)
		}
		return model.TextValue(s), nil
	case model.TaskTypeNumber:
		f, err := toFloat(raw)
		if err != nil {
			return nil, err
		}
		return model.NumberValue(f), nil
	case model.TaskTypeDate:
		ms, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		return model.DateValue{UnixMilli: ms}, nil
	case model.TaskTypeTime:
		ms, err := toInt(raw)
		if err != nil {
			return nil, err
		}
		return model.TimeValue{UnixMilli: ms}, nil
	case model.TaskTypeMultipleChoice:
		return choiceValue(raw)
	case model.TaskTypePhoto:
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("want photo file name, got %v", raw)
		}
		return model.PhotoValue{Filename: s}, nil
	case model.TaskTypeDropPin:
		p, err := toPoint(raw)
		if err != nil {
			return nil, err
		}
		return model.DropPinValue{Point: p}, nil
	case model.TaskTypeCaptureLocation:
		p, err := toPoint(raw)
		if err != nil {
			return nil, err
		}
		return model.CaptureLocationValue{Point: p}, nil
	case model.TaskTypeDrawArea:
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("want list of points, got %T", raw)
		}
		shell := make([]model.Point, len(list))
		for i, item := range list {
			p, err := toPoint(item)
			if err != nil {
				return nil, fmt.Errorf("point %d: %w", i, err)
			}
			shell[i] = p
		}
		return model.DrawAreaValue{Polygon: model.Polygon{Shell: shell}}, nil
	default:
		return nil, fmt.Errorf("unsupported task type %q", task.Type)
	}
}

func choiceValue(raw interface{}) (model.Value, error) {
	var v model.MultipleChoiceValue
	list, ok := raw.([]interface{})
	if !ok {
		m, isMap := raw.(map[string]interface{})
		if !isMap {
			return nil, fmt.Errorf("want list or map, got %T", raw)
		}
		if other, ok := m["other"]; ok {
			s, ok := other.(string)
			if !ok {
				return nil, fmt.Errorf("other must be a string")
			}
			v.OtherText = s
		}
		list, _ = m["selected"].([]interface{})
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("option ids must be strings, got %T", item)
		}
		v.SelectedOptionIDs = append(v.SelectedOptionIDs, s)
	}
	return v, nil
}

func toPoint(raw interface{}) (model.Point, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return model.Point{}, fmt.Errorf("want {lat, lng}, got %T", raw)
	}
	lat, err := toFloat(m["lat"])
	if err != nil {
		return model.Point{}, fmt.Errorf("lat: %w", err)
	}
	lng, err := toFloat(m["lng"])
	if err != nil {
		return model.Point{}, fmt.Errorf("lng: %w", err)
	}
	return model.Point{Lat: lat, Lng: lng}, nil
}

// toFloat accepts the numeric types YAML decoding produces.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing number")
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

// describeArgs renders step args for error messages, keys sorted.
func describeArgs(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return strings.Join(parts, " ")
}
