package model

import (
	"fmt"
	"strings"
	"time"
)

// Value is a typed task answer. The set of implementations is closed; each one
// reports the single task type it is a legal answer for.
type Value interface {
	TaskType() TaskType
	WireField() int
}

// TextValue answers a TEXT task.
type TextValue string

// NumberValue answers a NUMBER task.
type NumberValue float64

// DateValue answers a DATE task. Stored with millisecond precision.
type DateValue struct {
	UnixMilli int64 `wire:"1"`
}

// TimeValue answers a TIME task. Stored with millisecond precision.
type TimeValue struct {
	UnixMilli int64 `wire:"1"`
}

// MultipleChoiceValue answers a MULTIPLE_CHOICE task.
type MultipleChoiceValue struct {
	SelectedOptionIDs []string `wire:"1"`
	OtherText         string   `wire:"2"`
}

// PhotoValue answers a PHOTO task. Filename is relative to the device media directory
// and is reused as the object name in remote media storage.
type PhotoValue struct {
	Filename string `wire:"1"`
}

// CheckPhotoFilename rejects names that are empty or would resolve outside the
// media directory or the remote submissions folder.
func CheckPhotoFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty photo filename")
	case name == "." || name == "..", strings.ContainsAny(name, `/\`):
		return fmt.Errorf("photo %q must be a plain file name", name)
	}
	return nil
}

// DropPinValue answers a DROP_PIN task.
type DropPinValue struct {
	Point Point `wire:"1"`
}

// DrawAreaValue answers a DRAW_AREA task.
type DrawAreaValue struct {
	Polygon Polygon `wire:"1"`
}

// CaptureLocationValue answers a CAPTURE_LOCATION task.
type CaptureLocationValue struct {
	Point    Point    `wire:"1"`
	Accuracy *float64 `wire:"2"`
	Altitude *float64 `wire:"3"`
}

func (TextValue) TaskType() TaskType            { return TaskTypeText }
func (NumberValue) TaskType() TaskType          { return TaskTypeNumber }
func (DateValue) TaskType() TaskType            { return TaskTypeDate }
func (TimeValue) TaskType() TaskType            { return TaskTypeTime }
func (MultipleChoiceValue) TaskType() TaskType  { return TaskTypeMultipleChoice }
func (PhotoValue) TaskType() TaskType           { return TaskTypePhoto }
func (DropPinValue) TaskType() TaskType         { return TaskTypeDropPin }
func (DrawAreaValue) TaskType() TaskType        { return TaskTypeDrawArea }
func (CaptureLocationValue) TaskType() TaskType { return TaskTypeCaptureLocation }

func (TextValue) WireField() int            { return 1 }
func (NumberValue) WireField() int          { return 2 }
func (DateValue) WireField() int            { return 3 }
func (TimeValue) WireField() int            { return 4 }
func (MultipleChoiceValue) WireField() int  { return 5 }
func (PhotoValue) WireField() int           { return 6 }
func (DropPinValue) WireField() int         { return 7 }
func (DrawAreaValue) WireField() int        { return 8 }
func (CaptureLocationValue) WireField() int { return 9 }

// ValueVariants lists one instance of every Value implementation, in wire field order.
func ValueVariants() []Value {
	return []Value{
		TextValue(""),
		NumberValue(0),
		DateValue{},
		TimeValue{},
		MultipleChoiceValue{},
		PhotoValue{},
		DropPinValue{},
		DrawAreaValue{},
		CaptureLocationValue{},
	}
}

// NewDateValue truncates t to milliseconds.
func NewDateValue(t time.Time) DateValue {
	return DateValue{UnixMilli: t.UnixMilli()}
}

// Time returns the date as a UTC time.
func (v DateValue) Time() time.Time {
	return time.UnixMilli(v.UnixMilli).UTC()
}

// NewTimeValue truncates t to milliseconds.
func NewTimeValue(t time.Time) TimeValue {
	return TimeValue{UnixMilli: t.UnixMilli()}
}

// Time returns the time of day as a UTC time.
func (v TimeValue) Time() time.Time {
	return time.UnixMilli(v.UnixMilli).UTC()
}

// ValueDelta is one entry of a delta: the new value of a task.
// A nil Value is an explicit clear, distinct from the task being absent.
type ValueDelta struct {
	TaskID   string
	TaskType TaskType
	Value    Value
}

// Geometry is the shape of a location of interest or of a geometry answer.
type Geometry interface {
	WireField() int
	geometry()
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `wire:"1"`
	Lng float64 `wire:"2"`
}

// Polygon is a closed ring of points; the first and last point are equal.
type Polygon struct {
	Shell []Point `wire:"1"`
}

func (Point) WireField() int   { return 1 }
func (Polygon) WireField() int { return 2 }
func (Point) geometry()        {}
func (Polygon) geometry()      {}

// GeometryVariants lists one instance of every Geometry implementation.
func GeometryVariants() []Geometry {
	return []Geometry{Point{}, Polygon{}}
}
