package domain

import (
	"encoding/json"
	"fmt"
)

// MarkerState is the lifecycle stage of a marker record.
type MarkerState string

const (
	MarkerPending MarkerState = "pending" // Admitted, work in flight or finished without a stored result
	MarkerDone    MarkerState = "done"    // Work succeeded and Payload holds its result
)

// Marker is the value stored at an idempotency key.
type Marker struct {
	Token   string          `json:"token"`
	State   MarkerState     `json:"state"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes the marker for the store.
func (m Marker) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal marker: %w", err)
	}
	return string(data), nil
}

// DecodeMarker parses a stored marker value.
// Values written by other producers (e.g. a bare token) decode as a pending marker.
func DecodeMarker(value string) Marker {
	var m Marker
	if err := json.Unmarshal([]byte(value), &m); err != nil || m.State == "" {
		return Marker{Token: value, State: MarkerPending}
	}
	return m
}

// Replayable reports whether the marker holds a stored result.
func (m Marker) Replayable() bool {
	return m.State == MarkerDone
}
