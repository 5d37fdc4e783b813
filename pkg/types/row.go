package types

import "time"

// FusedRow is the output unit of temporal fusion: one row per valid
// concentration reading, carrying the concentration payload plus the
// matched feedback and dose payloads when a match fell inside the
// configured tolerance windows.
//
// A nil Feedback or Dose map means "no match", which downstream
// serialization must keep distinguishable from a matched zero value.
// Rows are immutable once emitted.
type FusedRow struct {
	// User identifies the user all three payloads belong to
	User string `json:"user"`

	// Timestamp is the concentration reading's timestamp (the anchor)
	Timestamp time.Time `json:"timestamp"`

	// Concentration holds the anchor reading's payload, always present
	Concentration map[string]any `json:"concentration"`

	// Feedback holds the matched feedback payload, nil if no candidate
	// fell within the feedback tolerance window
	Feedback map[string]any `json:"feedback,omitempty"`

	// FeedbackTime is the matched feedback timestamp, zero if unmatched
	FeedbackTime time.Time `json:"feedback_time,omitempty"`

	// Dose holds the most recent prior dose payload, nil if no dose
	// preceded the anchor within the dose tolerance window
	Dose map[string]any `json:"dose,omitempty"`

	// DoseTime is the matched dose timestamp, zero if unmatched
	DoseTime time.Time `json:"dose_time,omitempty"`
}

// HasFeedback reports whether a feedback record matched this row.
func (r *FusedRow) HasFeedback() bool { return r.Feedback != nil }

// HasDose reports whether a dose record matched this row.
func (r *FusedRow) HasDose() bool { return r.Dose != nil }
