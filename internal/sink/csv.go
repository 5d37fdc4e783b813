// Package sink serializes fused rows to a tabular CSV dataset. The write
// is atomic: rows go to a temp file that is renamed into place, and a
// .meta.json success sidecar is written only after the rename, so
// downstream consumers can always tell a complete dataset from the
// remains of a crashed run.
package sink

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/golang/snappy"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// Fixed leading columns; payload columns follow grouped by stream.
const (
	ColumnUser              = "user"
	ColumnTimestamp         = "timestamp"
	ColumnFeedbackTimestamp = "feedbackTimestamp"
	ColumnDoseTimestamp     = "doseTimestamp"
)

// WriteResult describes a completed dataset write.
type WriteResult struct {
	Path           string `json:"path"`
	SidecarPath    string `json:"sidecar_path"`
	CompressedPath string `json:"compressed_path,omitempty"`
	Rows           int64  `json:"rows"`
	SHA256         string `json:"sha256"`
}

// Sidecar is the .meta.json success marker written after a dataset lands.
// Its absence flags a truncated or failed run.
type Sidecar struct {
	RunID     string    `json:"run_id"`
	Rows      int64     `json:"rows"`
	SHA256    string    `json:"sha256"`
	Columns   []string  `json:"columns"`
	CreatedAt time.Time `json:"created_at"`
}

// CSVSink writes fused rows to a CSV file.
type CSVSink struct {
	path     string
	compress bool
}

// NewCSVSink creates a sink targeting the given path. When compress is
// set, a snappy-compressed copy lands next to the CSV.
func NewCSVSink(path string, compress bool) *CSVSink {
	return &CSVSink{path: path, compress: compress}
}

// Write serializes rows in the order received. Absent feedback and dose
// fields become empty cells, keeping "no match" distinguishable from a
// matched zero value.
func (s *CSVSink) Write(ctx context.Context, runID string, rows []types.FusedRow) (*WriteResult, error) {
	sch := buildSchema(rows)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to create output directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dataset-*.csv")
	if err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	w := csv.NewWriter(io.MultiWriter(tmp, hash))

	if err := w.Write(sch.columns); err != nil {
		tmp.Close()
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to write header", err)
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return nil, err
		}
		if err := w.Write(sch.cells(&row)); err != nil {
			tmp.Close()
			return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
				fmt.Sprintf("failed to write row %d", i), err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to flush rows", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to sync dataset", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to close temp file", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to move dataset into place", err)
	}

	result := &WriteResult{
		Path:   s.path,
		Rows:   int64(len(rows)),
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}

	if s.compress {
		compressedPath, err := s.writeCompressed()
		if err != nil {
			return nil, err
		}
		result.CompressedPath = compressedPath
	}

	sidecarPath, err := s.writeSidecar(runID, result, sch.columns)
	if err != nil {
		return nil, err
	}
	result.SidecarPath = sidecarPath

	return result, nil
}

// writeCompressed writes a snappy block-compressed copy of the dataset.
func (s *CSVSink) writeCompressed() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to reread dataset for compression", err)
	}

	path := s.path + ".sz"
	if err := os.WriteFile(path, snappy.Encode(nil, data), 0644); err != nil {
		return "", pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to write compressed dataset", err)
	}
	return path, nil
}

// writeSidecar writes the success marker. It lands only after the dataset
// itself is durable under its final name.
func (s *CSVSink) writeSidecar(runID string, result *WriteResult, columns []string) (string, error) {
	sidecar := Sidecar{
		RunID:     runID,
		Rows:      result.Rows,
		SHA256:    result.SHA256,
		Columns:   columns,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return "", pipeerrors.NewInternalError("failed to encode sidecar", err)
	}

	path := s.path + ".meta.json"
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"failed to write success sidecar", err)
	}
	return path, nil
}

// ReadSidecar loads a dataset's success marker. A missing sidecar means
// the producing run did not complete.
func ReadSidecar(datasetPath string) (*Sidecar, error) {
	data, err := os.ReadFile(datasetPath + ".meta.json")
	if err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"success sidecar missing or unreadable", err)
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, pipeerrors.NewSinkError(pipeerrors.CodeSinkWriteFailed,
			"success sidecar is corrupted", err)
	}
	return &sc, nil
}

// schema is the resolved column layout for one dataset.
type schema struct {
	columns []string

	concentration []string
	feedback      []string
	dose          []string
}

// buildSchema computes the union of observed payload fields. Column order
// is fixed: user, timestamp, concentration fields, feedback timestamp and
// fields, dose timestamp and fields, each group sorted by name. A field
// name already claimed by an earlier group gets a stream prefix so the
// column stays unambiguous.
func buildSchema(rows []types.FusedRow) *schema {
	concSet := map[string]struct{}{}
	fbSet := map[string]struct{}{}
	doseSet := map[string]struct{}{}

	for _, row := range rows {
		for name := range row.Concentration {
			concSet[name] = struct{}{}
		}
		for name := range row.Feedback {
			fbSet[name] = struct{}{}
		}
		for name := range row.Dose {
			doseSet[name] = struct{}{}
		}
	}

	sch := &schema{
		concentration: sortedKeys(concSet),
		feedback:      sortedKeys(fbSet),
		dose:          sortedKeys(doseSet),
	}

	claimed := map[string]struct{}{
		ColumnUser:              {},
		ColumnTimestamp:         {},
		ColumnFeedbackTimestamp: {},
		ColumnDoseTimestamp:     {},
	}

	sch.columns = []string{ColumnUser, ColumnTimestamp}
	for _, name := range sch.concentration {
		sch.columns = append(sch.columns, claim(claimed, name, "concentration_"))
	}
	sch.columns = append(sch.columns, ColumnFeedbackTimestamp)
	for _, name := range sch.feedback {
		sch.columns = append(sch.columns, claim(claimed, name, "feedback_"))
	}
	sch.columns = append(sch.columns, ColumnDoseTimestamp)
	for _, name := range sch.dose {
		sch.columns = append(sch.columns, claim(claimed, name, "dose_"))
	}

	return sch
}

func claim(claimed map[string]struct{}, name, prefix string) string {
	if _, taken := claimed[name]; taken {
		name = prefix + name
	}
	claimed[name] = struct{}{}
	return name
}

// cells serializes one row following the schema's column order.
func (sch *schema) cells(row *types.FusedRow) []string {
	cells := make([]string, 0, len(sch.columns))
	cells = append(cells, row.User, row.Timestamp.UTC().Format(time.RFC3339Nano))

	for _, name := range sch.concentration {
		cells = append(cells, formatValue(row.Concentration[name]))
	}

	if row.HasFeedback() {
		cells = append(cells, row.FeedbackTime.UTC().Format(time.RFC3339Nano))
	} else {
		cells = append(cells, "")
	}
	for _, name := range sch.feedback {
		if row.Feedback == nil {
			cells = append(cells, "")
			continue
		}
		cells = append(cells, formatValue(row.Feedback[name]))
	}

	if row.HasDose() {
		cells = append(cells, row.DoseTime.UTC().Format(time.RFC3339Nano))
	} else {
		cells = append(cells, "")
	}
	for _, name := range sch.dose {
		if row.Dose == nil {
			cells = append(cells, "")
			continue
		}
		cells = append(cells, formatValue(row.Dose[name]))
	}

	return cells
}

// formatValue renders a payload value as a CSV cell. Absent values render
// as the empty cell, the explicit null marker.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
