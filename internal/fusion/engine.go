// Package fusion implements the temporal fusion engine: for every
// concentration reading it locates the nearest feedback record within a
// symmetric tolerance window and the most recent preceding dose within a
// backward-only window, per user, emitting one fused row per reading.
//
// Both matches run over per-user sub-streams already sorted ascending by
// timestamp, with forward-only cursors. Each user's fusion is therefore
// linear in that user's total record count.
package fusion

import (
	"fmt"
	"time"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// Tolerances bounds how far a candidate may sit from the anchor reading
// for the match to be accepted.
type Tolerances struct {
	// Feedback is the symmetric window for nearest feedback matching.
	Feedback time.Duration

	// Dose is the backward-only window for dose matching.
	Dose time.Duration
}

// Engine fuses per-user event streams into rows. It holds no per-run
// state; the per-user cursors live entirely within FuseUser.
type Engine struct {
	tol Tolerances
}

// NewEngine creates a fusion engine. Negative tolerances are a fatal
// configuration error, reported before any processing starts.
func NewEngine(tol Tolerances) (*Engine, error) {
	if tol.Feedback < 0 {
		return nil, pipeerrors.NewFusionError(pipeerrors.CodeInvalidTolerance,
			fmt.Sprintf("feedback tolerance must be non-negative, got %s", tol.Feedback))
	}
	if tol.Dose < 0 {
		return nil, pipeerrors.NewFusionError(pipeerrors.CodeInvalidTolerance,
			fmt.Sprintf("dose tolerance must be non-negative, got %s", tol.Dose))
	}
	return &Engine{tol: tol}, nil
}

// Tolerances returns the configured tolerance windows.
func (e *Engine) Tolerances() Tolerances { return e.tol }

// FuseUser produces one FusedRow per concentration event, in concentration
// order. All three slices must belong to the same user and be sorted
// ascending by timestamp; empty feedback or dose slices simply yield rows
// with the corresponding fields absent.
func (e *Engine) FuseUser(user string, concentration, feedback, dose []types.Event) []types.FusedRow {
	rows := make([]types.FusedRow, 0, len(concentration))

	// Forward-only cursors. fi points at the current nearest feedback
	// candidate; di at the last dose with timestamp <= anchor (-1 while
	// every dose is still in the future).
	fi := 0
	di := -1

	for _, anchor := range concentration {
		t := anchor.Timestamp

		row := types.FusedRow{
			User:          user,
			Timestamp:     t,
			Concentration: anchor.Payload,
		}

		// Nearest feedback: advance while the next candidate is strictly
		// closer to t. On an exact distance tie the earlier candidate
		// stays, which is the documented tie-break policy.
		if len(feedback) > 0 {
			for fi+1 < len(feedback) &&
				absDuration(feedback[fi+1].Timestamp.Sub(t)) < absDuration(feedback[fi].Timestamp.Sub(t)) {
				fi++
			}
			if absDuration(feedback[fi].Timestamp.Sub(t)) <= e.tol.Feedback {
				row.Feedback = feedback[fi].Payload
				row.FeedbackTime = feedback[fi].Timestamp
			}
		}

		// Backward-only dose: advance to the last candidate at or before
		// t. Future doses are never considered.
		for di+1 < len(dose) && !dose[di+1].Timestamp.After(t) {
			di++
		}
		if di >= 0 && t.Sub(dose[di].Timestamp) <= e.tol.Dose {
			row.Dose = dose[di].Payload
			row.DoseTime = dose[di].Timestamp
		}

		rows = append(rows, row)
	}

	return rows
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
