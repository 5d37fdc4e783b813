// Package integration provides end-to-end integration tests for the
// Tempofuse pipeline.
package integration

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tempofuse/tempofuse/internal/app"
	"github.com/tempofuse/tempofuse/internal/config"
	"github.com/tempofuse/tempofuse/internal/sink"
	"github.com/tempofuse/tempofuse/internal/source"
)

// TestFusePipelineDirSource tests the end-to-end flow:
// dir source → normalize → fuse → CSV + sidecar + catalog.
func TestFusePipelineDirSource(t *testing.T) {
	dataDir := t.TempDir()
	writeFixtures(t, filepath.Join(dataDir, "collections"))

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	application, err := app.New(cfg)
	if err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	report, err := application.RunFuse(context.Background())
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	f, err := os.Open(report.OutputPath)
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse dataset: %v", err)
	}

	// Header plus one row per concentration event.
	if len(rows) != 5 {
		t.Fatalf("expected 5 CSV rows (1 header + 4 data), got %d", len(rows))
	}

	header := rows[0]
	if header[0] != "user" || header[1] != "timestamp" {
		t.Errorf("unexpected leading columns: %v", header[:2])
	}

	// Rows are sorted by user then timestamp.
	var order []string
	for _, row := range rows[1:] {
		order = append(order, row[0]+"@"+row[1])
	}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Errorf("rows out of order: %q before %q", order[i-1], order[i])
		}
	}

	// Success marker agrees with the report.
	sidecar, err := sink.ReadSidecar(report.OutputPath)
	if err != nil {
		t.Fatalf("failed to read sidecar: %v", err)
	}
	if sidecar.SHA256 != report.SHA256 {
		t.Errorf("sidecar digest %s does not match report %s", sidecar.SHA256, report.SHA256)
	}
	if sidecar.Rows != 4 {
		t.Errorf("sidecar rows: got %d, want 4", sidecar.Rows)
	}
}

// TestFusePipelineSQLiteSource tests the same flow with a SQLite-backed
// document source, seeded through the source's own Put API.
func TestFusePipelineSQLiteSource(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	dbPath := filepath.Join(dataDir, "documents.db")

	seed, err := source.NewSQLiteSource(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite source: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := seed.Put(ctx, source.CollectionConcentrations, fmt.Sprintf("c-%d", i), map[string]any{
			"user":      source.Ref("alice"),
			"timestamp": base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			"value":     float64(i),
		})
		if err != nil {
			t.Fatalf("failed to seed concentration: %v", err)
		}
	}
	err = seed.Put(ctx, source.CollectionDose, "d-0", map[string]any{
		"user":          source.Ref("alice"),
		"doseTimestamp": base.Add(-time.Hour).Format(time.RFC3339),
		"amount":        10.0,
	})
	if err != nil {
		t.Fatalf("failed to seed dose: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("failed to close seed source: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Source.Type = "sqlite"
	cfg.Source.Path = dbPath

	application, err := app.New(cfg)
	if err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	report, err := application.RunFuse(ctx)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	if report.Summary.Rows != 3 {
		t.Errorf("rows: got %d, want 3", report.Summary.Rows)
	}
	// The 09:00 dose precedes all three readings within the 6h window.
	if report.Summary.DoseMatched != 3 {
		t.Errorf("dose matched: got %d, want 3", report.Summary.DoseMatched)
	}
	if report.Summary.FeedbackMatched != 0 {
		t.Errorf("feedback matched: got %d, want 0", report.Summary.FeedbackMatched)
	}
}

// TestFusePipelineByteStable runs the pipeline twice over the same input
// and requires byte-identical datasets.
func TestFusePipelineByteStable(t *testing.T) {
	dataDir := t.TempDir()
	writeFixtures(t, filepath.Join(dataDir, "collections"))

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		cfg := config.DefaultConfig()
		cfg.DataDir = dataDir
		cfg.Sink.OutputPath = filepath.Join(dataDir, fmt.Sprintf("dataset-%d.csv", i))
		cfg.Fusion.Workers = 1 + i*3 // serial and parallel must agree

		application, err := app.New(cfg)
		if err != nil {
			t.Fatalf("failed to create application: %v", err)
		}
		report, err := application.RunFuse(context.Background())
		if err != nil {
			t.Fatalf("pipeline failed: %v", err)
		}
		data, err := os.ReadFile(report.OutputPath)
		if err != nil {
			t.Fatalf("failed to read dataset: %v", err)
		}
		outputs = append(outputs, data)
	}

	if string(outputs[0]) != string(outputs[1]) {
		t.Error("datasets differ between runs over identical input")
	}
}

// TestFusePipelineEmptySource verifies an empty source still produces a
// valid dataset with a success marker.
func TestFusePipelineEmptySource(t *testing.T) {
	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "collections"), 0755); err != nil {
		t.Fatalf("failed to create collections dir: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir

	application, err := app.New(cfg)
	if err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	report, err := application.RunFuse(context.Background())
	if err != nil {
		t.Fatalf("pipeline failed on empty source: %v", err)
	}
	if report.Summary.Rows != 0 {
		t.Errorf("rows: got %d, want 0", report.Summary.Rows)
	}

	sidecar, err := sink.ReadSidecar(report.OutputPath)
	if err != nil {
		t.Fatalf("failed to read sidecar: %v", err)
	}
	if sidecar.Rows != 0 {
		t.Errorf("sidecar rows: got %d, want 0", sidecar.Rows)
	}
}

func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create collections dir: %v", err)
	}

	write := func(name string, lines ...string) {
		t.Helper()
		content := strings.Join(lines, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	write("concentrations.jsonl",
		`{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T10:00:00Z", "value": 4.2}`,
		`{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T14:00:00Z", "value": 3.1}`,
		`{"user": {"$ref": "users/bob"}, "timestamp": "2026-03-01T09:00:00Z", "value": 5.0}`,
		`{"user": {"$ref": "users/bob"}, "timestamp": "2026-03-01T12:00:00Z", "value": 4.8}`,
	)
	write("feedback.jsonl",
		`{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T11:30:00Z", "mood": 3}`,
		`{"user": {"$ref": "users/bob"}, "timestamp": "2026-03-01T12:15:00Z", "mood": 4}`,
	)
	write("dose.jsonl",
		`{"user": {"$ref": "users/alice"}, "doseTimestamp": "2026-03-01T08:00:00Z", "amount": 10}`,
		`{"user": {"$ref": "users/bob"}, "doseTimestamp": "2026-03-01T11:00:00Z", "amount": 5}`,
	)
}
