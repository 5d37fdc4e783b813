// Package types provides core data types for Tempofuse.
package types

import "time"

// StreamKind identifies which source stream an event came from.
type StreamKind string

const (
	// StreamConcentration is the drug concentration reading stream.
	StreamConcentration StreamKind = "concentration"

	// StreamFeedback is the patient-reported feedback stream.
	StreamFeedback StreamKind = "feedback"

	// StreamDose is the dose-administration stream.
	StreamDose StreamKind = "dose"
)

// Streams lists all stream kinds in canonical order.
var Streams = []StreamKind{StreamConcentration, StreamFeedback, StreamDose}

// Valid reports whether the stream kind is one of the three known streams.
func (k StreamKind) Valid() bool {
	switch k {
	case StreamConcentration, StreamFeedback, StreamDose:
		return true
	}
	return false
}

// Event is a single normalized observation from one of the three streams.
// UserID is always resolved and Timestamp always valid; records failing
// either guarantee are rejected during normalization and never become Events.
type Event struct {
	// UserID identifies the user this event belongs to
	UserID string `json:"user_id"`

	// Timestamp is when the observation occurred
	Timestamp time.Time `json:"timestamp"`

	// Kind identifies the originating stream
	Kind StreamKind `json:"kind"`

	// Payload contains the stream-specific fields (concentration value,
	// feedback metrics, dose marker)
	Payload map[string]any `json:"payload"`
}
