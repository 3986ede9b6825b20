// internal/data/parser.go
package data

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Accepted ISO-8601 shapes. Parsing tolerates a fractional second after the
// seconds field, so no layout needs to spell it out. Inputs without a zone
// are read as UTC.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date or datetime.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("invalid timestamp format, expected ISO 8601 (YYYY-MM-DDTHH:MM:SSZ)")
}

// Wire shapes use pointers so that absent fields can be told apart from zeros.
type wireAccelerometer struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

type wireGPS struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireSample struct {
	UserID        *int64             `json:"user_id"`
	Accelerometer *wireAccelerometer `json:"accelerometer"`
	GPS           *wireGPS           `json:"gps"`
	Timestamp     *string            `json:"timestamp"`
}

type wireItem struct {
	RoadState string      `json:"road_state"`
	AgentData *wireSample `json:"agent_data"`
}

// ParseBatch decodes a JSON array of ingest items. The first invalid item
// fails the whole batch with a *ValidationError.
func ParseBatch(body []byte) ([]IngestItem, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Index: -1, Reason: "body must be a JSON array of records: " + err.Error()}
	}
	items := make([]IngestItem, 0, len(raw))
	for i, r := range raw {
		it, err := parseItem(r, i)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ParseItem decodes a single ingest item, as used by full-replacement updates.
func ParseItem(body []byte) (IngestItem, error) {
	return parseItem(body, -1)
}

func parseItem(body []byte, index int) (IngestItem, error) {
	var w wireItem
	if err := decodeStrict(body, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return IngestItem{}, &ValidationError{Index: index, Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		return IngestItem{}, &ValidationError{Index: index, Reason: "malformed JSON: " + err.Error()}
	}

	if w.AgentData == nil {
		return IngestItem{}, missing(index, "agent_data")
	}
	s := w.AgentData
	switch {
	case s.UserID == nil:
		return IngestItem{}, missing(index, "agent_data.user_id")
	case s.Accelerometer == nil:
		return IngestItem{}, missing(index, "agent_data.accelerometer")
	case s.Accelerometer.X == nil:
		return IngestItem{}, missing(index, "agent_data.accelerometer.x")
	case s.Accelerometer.Y == nil:
		return IngestItem{}, missing(index, "agent_data.accelerometer.y")
	case s.Accelerometer.Z == nil:
		return IngestItem{}, missing(index, "agent_data.accelerometer.z")
	case s.GPS == nil:
		return IngestItem{}, missing(index, "agent_data.gps")
	case s.GPS.Latitude == nil:
		return IngestItem{}, missing(index, "agent_data.gps.latitude")
	case s.GPS.Longitude == nil:
		return IngestItem{}, missing(index, "agent_data.gps.longitude")
	case s.Timestamp == nil:
		return IngestItem{}, missing(index, "agent_data.timestamp")
	}

	ts, err := ParseTimestamp(*s.Timestamp)
	if err != nil {
		return IngestItem{}, &ValidationError{Index: index, Field: "agent_data.timestamp", Reason: err.Error()}
	}

	it := IngestItem{
		RoadState: RoadState(w.RoadState),
		AgentData: RawSample{
			UserID:        *s.UserID,
			Accelerometer: Accelerometer{X: *s.Accelerometer.X, Y: *s.Accelerometer.Y, Z: *s.Accelerometer.Z},
			GPS:           GPS{Latitude: *s.GPS.Latitude, Longitude: *s.GPS.Longitude},
			Timestamp:     ts,
		},
	}
	if err := it.Validate(index); err != nil {
		return IngestItem{}, err
	}
	return it, nil
}

func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

func missing(index int, field string) error {
	return &ValidationError{Index: index, Field: field, Reason: "required"}
}
