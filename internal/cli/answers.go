package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fieldsync/internal/model"
)

// parseAnswers converts "task=value" flags into deltas, in flag order. An empty
// value clears the task. Free text is NFC normalized; photo names are kept as
// typed so they still match the file on disk.
func parseAnswers(job model.Job, answers []string) ([]model.ValueDelta, error) {
	deltas := make([]model.ValueDelta, 0, len(answers))
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		taskID, raw, ok := strings.Cut(a, "=")
		if !ok || taskID == "" {
			return nil, fmt.Errorf("answer %q: want task=value", a)
		}
		if seen[taskID] {
			return nil, fmt.Errorf("task %s answered twice", taskID)
		}
		seen[taskID] = true

		task, ok := job.Task(taskID)
		if !ok {
			return nil, fmt.Errorf("job %s has no task %s", job.ID, taskID)
		}
		v, err := parseAnswer(task, raw)
		if err != nil {
			return nil, fmt.Errorf("task %s (%s): %w", taskID, task.Type, err)
		}
		deltas = append(deltas, model.ValueDelta{TaskID: taskID, TaskType: task.Type, Value: v})
	}
	return deltas, nil
}

// parseAnswer parses the text form of an answer to task.
//
//	TEXT              any text
//	NUMBER            12.5
//	DATE              2024-03-01 or RFC 3339
//	TIME              14:30 or RFC 3339
//	MULTIPLE_CHOICE   option ids separated by commas, "other:<text>" for free text
//	PHOTO             file name in the media directory
//	DROP_PIN          lat,lng
//	CAPTURE_LOCATION  lat,lng[,accuracy[,altitude]]
//	DRAW_AREA         lat,lng;lat,lng;... (closed ring)
func parseAnswer(task model.Task, raw string) (model.Value, error) {
	if raw == "" {
		return nil, nil
	}

	switch task.Type {
	case model.TaskTypeText:
		return model.TextValue(norm.NFC.String(raw)), nil
	case model.TaskTypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return model.NumberValue(f), nil
	case model.TaskTypeDate:
		t, err := parseTime(raw, time.DateOnly)
		if err != nil {
			return nil, err
		}
		return model.NewDateValue(t), nil
	case model.TaskTypeTime:
		t, err := parseTime(raw, "15:04")
		if err != nil {
			return nil, err
		}
		return model.NewTimeValue(t), nil
	case model.TaskTypeMultipleChoice:
		return parseChoice(task, raw)
	case model.TaskTypePhoto:
		if err := model.CheckPhotoFilename(raw); err != nil {
			return nil, err
		}
		return model.PhotoValue{Filename: raw}, nil
	case model.TaskTypeDropPin:
		p, err := parsePoint(raw)
		if err != nil {
			return nil, err
		}
		return model.DropPinValue{Point: p}, nil
	case model.TaskTypeCaptureLocation:
		return parseCaptureLocation(raw)
	case model.TaskTypeDrawArea:
		shell, err := parsePoints(raw)
		if err != nil {
			return nil, err
		}
		return model.DrawAreaValue{Polygon: model.Polygon{Shell: shell}}, nil
	default:
		return nil, fmt.Errorf("unsupported task type %q", task.Type)
	}
}

// parseTime accepts layout or RFC 3339. Layout values are read as UTC.
func parseTime(raw, layout string) (time.Time, error) {
	if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want %s or RFC 3339", raw, layout)
	}
	return t, nil
}

func parseChoice(task model.Task, raw string) (model.Value, error) {
	var v model.MultipleChoiceValue
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if text, ok := strings.CutPrefix(part, "other:"); ok {
			if !task.AllowOther {
				return nil, fmt.Errorf("task does not allow other")
			}
			v.OtherText = norm.NFC.String(text)
			continue
		}
		known := slices.ContainsFunc(task.Options, func(o model.Option) bool { return o.ID == part })
		if !known {
			return nil, fmt.Errorf("unknown option %q", part)
		}
		v.SelectedOptionIDs = append(v.SelectedOptionIDs, part)
	}
	return v, nil
}

func parseCaptureLocation(raw string) (model.Value, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, fmt.Errorf("invalid location %q: want lat,lng[,accuracy[,altitude]]", raw)
	}
	p, err := parsePoint(strings.Join(parts[:2], ","))
	if err != nil {
		return nil, err
	}
	v := model.CaptureLocationValue{Point: p}
	extras := []**float64{&v.Accuracy, &v.Altitude}
	for i, s := range parts[2:] {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid location %q: %q is not a number", raw, s)
		}
		*extras[i] = &f
	}
	return v, nil
}

// parsePoint parses "lat,lng".
func parsePoint(raw string) (model.Point, error) {
	latStr, lngStr, ok := strings.Cut(raw, ",")
	if !ok {
		return model.Point{}, fmt.Errorf("invalid point %q: want lat,lng", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("invalid latitude %q", latStr)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return model.Point{}, fmt.Errorf("invalid longitude %q", lngStr)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.Point{}, fmt.Errorf("point %q out of range", raw)
	}
	return model.Point{Lat: lat, Lng: lng}, nil
}

// parsePoints parses a closed ring "lat,lng;lat,lng;...".
func parsePoints(raw string) ([]model.Point, error) {
	parts := strings.Split(raw, ";")
	if len(parts) < 4 {
		return nil, fmt.Errorf("polygon needs at least 4 points, got %d", len(parts))
	}
	shell := make([]model.Point, len(parts))
	for i, part := range parts {
		p, err := parsePoint(part)
		if err != nil {
			return nil, err
		}
		shell[i] = p
	}
	if shell[0] != shell[len(shell)-1] {
		return nil, fmt.Errorf("polygon is not closed: first and last point differ")
	}
	return shell, nil
}
