package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/fieldsync/internal/model"
)

// geoJSON is the geometry shape used inside delta values.
// Coordinates are [lng, lat] as in GeoJSON.
type geoJSON struct {
	Coordinates json.RawMessage `json:"coordinates"`
	Type        string          `json:"type"`
}

type multipleChoiceJSON struct {
	Other    string   `json:"other,omitempty"`
	Selected []string `json:"selected"`
}

type captureLocationJSON struct {
	Accuracy *float64 `json:"accuracy,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Location geoJSON  `json:"location"`
}

func encodeValue(v model.Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case model.TextValue:
		return marshalString(string(val))
	case model.NumberValue:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %v is not representable", f)
		}
		return json.Marshal(f)
	case model.DateValue:
		return json.Marshal(val.UnixMilli)
	case model.TimeValue:
		return json.Marshal(val.UnixMilli)
	case model.MultipleChoiceValue:
		return marshalNoEscape(multipleChoiceJSON{
			Other:    val.OtherText,
			Selected: val.SelectedOptionIDs,
		})
	case model.PhotoValue:
		return marshalString(val.Filename)
	case model.DropPinValue:
		return marshalNoEscape(pointGeoJSON(val.Point))
	case model.DrawAreaValue:
		return marshalNoEscape(polygonGeoJSON(val.Polygon))
	case model.CaptureLocationValue:
		return marshalNoEscape(captureLocationJSON{
			Accuracy: val.Accuracy,
			Altitude: val.Altitude,
			Location: pointGeoJSON(val.Point),
		})
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func decodeValue(typ model.TaskType, raw json.RawMessage) (model.Value, error) {
	switch typ {
	case model.TaskTypeText:
		var s string
		if err := strictUnmarshal(raw, &s); err != nil {
			return nil, err
		}
		return model.TextValue(s), nil
	case model.TaskTypeNumber:
		n, err := readNumber(raw)
		if err != nil {
			return nil, err
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", n, err)
		}
		return model.NumberValue(f), nil
	case model.TaskTypeDate:
		ms, err := readMillis(raw)
		if err != nil {
			return nil, err
		}
		return model.DateValue{UnixMilli: ms}, nil
	case model.TaskTypeTime:
		ms, err := readMillis(raw)
		if err != nil {
			return nil, err
		}
		return model.TimeValue{UnixMilli: ms}, nil
	case model.TaskTypeMultipleChoice:
		var mc multipleChoiceJSON
		if err := strictUnmarshal(raw, &mc); err != nil {
			return nil, err
		}
		return model.MultipleChoiceValue{SelectedOptionIDs: mc.Selected, OtherText: mc.Other}, nil
	case model.TaskTypePhoto:
		var s string
		if err := strictUnmarshal(raw, &s); err != nil {
			return nil, err
		}
		if err := model.CheckPhotoFilename(s); err != nil {
			return nil, err
		}
		return model.PhotoValue{Filename: s}, nil
	case model.TaskTypeDropPin:
		var g geoJSON
		if err := strictUnmarshal(raw, &g); err != nil {
			return nil, err
		}
		p, err := readPoint(g)
		if err != nil {
			return nil, err
		}
		return model.DropPinValue{Point: p}, nil
	case model.TaskTypeDrawArea:
		var g geoJSON
		if err := strictUnmarshal(raw, &g); err != nil {
			return nil, err
		}
		poly, err := readPolygon(g)
		if err != nil {
			return nil, err
		}
		return model.DrawAreaValue{Polygon: poly}, nil
	case model.TaskTypeCaptureLocation:
		var cl captureLocationJSON
		if err := strictUnmarshal(raw, &cl); err != nil {
			return nil, err
		}
		p, err := readPoint(cl.Location)
		if err != nil {
			return nil, err
		}
		return model.CaptureLocationValue{Point: p, Accuracy: cl.Accuracy, Altitude: cl.Altitude}, nil
	default:
		return nil, fmt.Errorf("unsupported task type %q", typ)
	}
}

func pointGeoJSON(p model.Point) geoJSON {
	coords, _ := json.Marshal([2]float64{p.Lng, p.Lat})
	return geoJSON{Type: "Point", Coordinates: coords}
}

func polygonGeoJSON(poly model.Polygon) geoJSON {
	ring := make([][2]float64, len(poly.Shell))
	for i, p := range poly.Shell {
		ring[i] = [2]float64{p.Lng, p.Lat}
	}
	coords, _ := json.Marshal([][][2]float64{ring})
	return geoJSON{Type: "Polygon", Coordinates: coords}
}

func readPoint(g geoJSON) (model.Point, error) {
	if g.Type != "Point" {
		return model.Point{}, fmt.Errorf("geometry type %q, want Point", g.Type)
	}
	var c [2]float64
	if err := strictUnmarshal(g.Coordinates, &c); err != nil {
		return model.Point{}, fmt.Errorf("point coordinates: %w", err)
	}
	return model.Point{Lat: c[1], Lng: c[0]}, nil
}

func readPolygon(g geoJSON) (model.Polygon, error) {
	if g.Type != "Polygon" {
		return model.Polygon{}, fmt.Errorf("geometry type %q, want Polygon", g.Type)
	}
	var rings [][][2]float64
	if err := strictUnmarshal(g.Coordinates, &rings); err != nil {
		return model.Polygon{}, fmt.Errorf("polygon coordinates: %w", err)
	}
	if len(rings) != 1 {
		return model.Polygon{}, fmt.Errorf("polygon has %d rings, want 1", len(rings))
	}
	shell := make([]model.Point, len(rings[0]))
	for i, c := range rings[0] {
		shell[i] = model.Point{Lat: c[1], Lng: c[0]}
	}
	return model.Polygon{Shell: shell}, nil
}

func readNumber(raw json.RawMessage) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	return n, nil
}

func readMillis(raw json.RawMessage) (int64, error) {
	n, err := readNumber(raw)
	if err != nil {
		return 0, err
	}
	ms, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("timestamp %s is not an integer", n)
	}
	return ms, nil
}

// strictUnmarshal rejects unknown object fields so that a value of the wrong shape
// is reported as corrupt instead of silently decoding to zero values.
func strictUnmarshal(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// marshalString writes a JSON string without HTML escaping. The bytes are kept
// as given: photo filenames must still match the file on disk.
func marshalString(s string) ([]byte, error) {
	return marshalNoEscape(s)
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
