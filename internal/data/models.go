// internal/data/models.go
package data

import (
	"math"
	"time"
)

// RoadState is the classified condition of the road surface under a sample.
type RoadState string

const (
	RoadGood   RoadState = "Good"
	RoadMedium RoadState = "Medium"
	RoadBad    RoadState = "Bad"
)

// Valid reports whether s is one of the known labels.
func (s RoadState) Valid() bool {
	switch s {
	case RoadGood, RoadMedium, RoadBad:
		return true
	}
	return false
}

type Accelerometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RawSample - unprocessed telemetry submitted by an agent
type RawSample struct {
	UserID        int64         `json:"user_id"`
	Accelerometer Accelerometer `json:"accelerometer"`
	GPS           GPS           `json:"gps"`
	Timestamp     time.Time     `json:"timestamp"`
}

// IngestItem is one element of an ingest batch. RoadState is optional; when
// empty the pipeline classifies the sample itself.
type IngestItem struct {
	RoadState RoadState `json:"road_state,omitempty"`
	AgentData RawSample `json:"agent_data"`
}

// RecordFields are the persisted columns of a record, without its id.
type RecordFields struct {
	RoadState RoadState `json:"road_state"`
	UserID    int64     `json:"user_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessedRecord - a classified sample as stored and pushed to subscribers
type ProcessedRecord struct {
	ID int64 `json:"id"`
	RecordFields
}

// Fields flattens the sample into record columns labelled with state.
func (s RawSample) Fields(state RoadState) RecordFields {
	return RecordFields{
		RoadState: state,
		UserID:    s.UserID,
		X:         s.Accelerometer.X,
		Y:         s.Accelerometer.Y,
		Z:         s.Accelerometer.Z,
		Latitude:  s.GPS.Latitude,
		Longitude: s.GPS.Longitude,
		Timestamp: s.Timestamp,
	}
}

// Validate checks the invariants that the JSON decoder cannot. index is
// reported back in the error and may be -1 for a single item.
func (it IngestItem) Validate(index int) error {
	if it.RoadState != "" && !it.RoadState.Valid() {
		return &ValidationError{Index: index, Field: "road_state", Reason: "unknown road state " + string(it.RoadState)}
	}
	s := it.AgentData
	if s.Timestamp.IsZero() {
		return &ValidationError{Index: index, Field: "agent_data.timestamp", Reason: "required"}
	}
	checks := []struct {
		field string
		v     float64
	}{
		{"agent_data.accelerometer.x", s.Accelerometer.X},
		{"agent_data.accelerometer.y", s.Accelerometer.Y},
		{"agent_data.accelerometer.z", s.Accelerometer.Z},
		{"agent_data.gps.latitude", s.GPS.Latitude},
		{"agent_data.gps.longitude", s.GPS.Longitude},
	}
	for _, c := range checks {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return &ValidationError{Index: index, Field: c.field, Reason: "must be a finite number"}
		}
	}
	return nil
}
