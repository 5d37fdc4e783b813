// Package normalize converts raw document-store records into uniform typed
// events. It resolves embedded document references to plain user IDs,
// canonicalizes stream-specific timestamp fields, and rejects records that
// cannot be attributed to a user and point in time.
package normalize

import (
	"fmt"
	"strings"
	"time"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/internal/source"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// Canonical field names after normalization.
const (
	FieldTimestamp = "timestamp"
	FieldUser      = "user"
	FieldDoseTaken = "doseTaken"
)

// Rejection reasons, used as counter keys in run summaries and metrics.
const (
	ReasonMissingUser      = "missing_user"
	ReasonInvalidTimestamp = "invalid_timestamp"
)

// Rejections counts dropped records per reason.
type Rejections map[string]int

// Add merges another rejection count into this one.
func (r Rejections) Add(other Rejections) {
	for reason, n := range other {
		r[reason] += n
	}
}

// Total returns the total number of rejected records.
func (r Rejections) Total() int {
	total := 0
	for _, n := range r {
		total += n
	}
	return total
}

// Normalizer transforms raw records into events. It is a pure transform:
// input records are never mutated and rejections never abort a stream.
type Normalizer struct {
	// renames maps stream kind to {source field -> canonical field}
	renames map[string]map[string]string
}

// New creates a normalizer with the given per-stream field renames.
func New(renames map[string]map[string]string) *Normalizer {
	if renames == nil {
		renames = map[string]map[string]string{}
	}
	return &Normalizer{renames: renames}
}

// Normalize converts one raw record into an Event. The returned error is
// always a NORMALIZE-category PipelineError carrying the rejection reason.
func (n *Normalizer) Normalize(rec source.RawRecord, kind types.StreamKind) (types.Event, error) {
	// Two-phase: build the payload as a fresh map first, then derive from
	// it. The input record stays untouched.
	payload := make(map[string]any, len(rec.Fields))
	var userID string

	for name, value := range rec.Fields {
		if ref, ok := refTarget(value); ok {
			userID = ref
			continue
		}
		payload[name] = value
	}

	// Plain string user field, as written by per-user subcollection loaders
	if userID == "" {
		if u, ok := payload[FieldUser].(string); ok && u != "" {
			userID = u
			delete(payload, FieldUser)
		}
	}

	if userID == "" {
		return types.Event{}, pipeerrors.Wrap(pipeerrors.ErrCategoryNormalize, pipeerrors.CodeMissingUser,
			fmt.Sprintf("record %s has no resolvable user reference", rec.ID), types.ErrMissingUser)
	}

	for oldName, newName := range n.renames[string(kind)] {
		if v, ok := payload[oldName]; ok {
			delete(payload, oldName)
			payload[newName] = v
		}
	}

	ts, ok := parseTimestamp(payload[FieldTimestamp])
	if !ok {
		return types.Event{}, pipeerrors.Wrap(pipeerrors.ErrCategoryNormalize, pipeerrors.CodeInvalidTimestamp,
			fmt.Sprintf("record %s has no parsable timestamp", rec.ID), types.ErrInvalidTimestamp)
	}
	delete(payload, FieldTimestamp)

	if kind == types.StreamDose {
		payload[FieldDoseTaken] = 1
	}

	deriveBodyInfo(payload)

	return types.Event{
		UserID:    userID,
		Timestamp: ts,
		Kind:      kind,
		Payload:   payload,
	}, nil
}

// NormalizeStream converts a whole raw stream, dropping and counting
// rejected records. Event order follows record order.
func (n *Normalizer) NormalizeStream(records []source.RawRecord, kind types.StreamKind) ([]types.Event, Rejections) {
	events := make([]types.Event, 0, len(records))
	rejections := Rejections{}

	for _, rec := range records {
		event, err := n.Normalize(rec, kind)
		if err != nil {
			switch pipeerrors.GetCode(err) {
			case pipeerrors.CodeMissingUser:
				rejections[ReasonMissingUser]++
			case pipeerrors.CodeInvalidTimestamp:
				rejections[ReasonInvalidTimestamp]++
			}
			continue
		}
		events = append(events, event)
	}

	return events, rejections
}

// refTarget resolves a document reference value ({"$ref": "users/<id>"})
// to its target ID. Returns false for non-reference values.
func refTarget(value any) (string, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return "", false
	}
	path, ok := m[source.RefKey].(string)
	if !ok {
		return "", false
	}
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	if path == "" {
		return "", false
	}
	return path, true
}

// parseTimestamp accepts RFC 3339 strings and epoch numbers. JSON numbers
// arrive as float64; values above 1e12 are treated as milliseconds.
func parseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), true
			}
		}
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC(), true
		}
		return time.Unix(int64(v), 0).UTC(), true
	case int64:
		if v <= 0 {
			return time.Time{}, false
		}
		if v > 1e12 {
			return time.UnixMilli(v).UTC(), true
		}
		return time.Unix(v, 0).UTC(), true
	case time.Time:
		return v.UTC(), true
	}
	return time.Time{}, false
}
