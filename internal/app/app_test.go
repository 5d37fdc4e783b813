package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempofuse/tempofuse/internal/config"
	"github.com/tempofuse/tempofuse/internal/manifest"
	"github.com/tempofuse/tempofuse/internal/sink"
)

func writeCollections(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	concentrations := `{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T10:00:00Z", "value": 4.2}
{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T14:00:00Z", "value": 3.1}
{"user": {"$ref": "users/bob"}, "timestamp": "2026-03-01T09:00:00Z", "value": 5.0}
`
	feedback := `{"user": {"$ref": "users/alice"}, "timestamp": "2026-03-01T11:30:00Z", "mood": 3}
{"timestamp": "2026-03-01T12:00:00Z", "mood": 5}
`
	dose := `{"user": {"$ref": "users/alice"}, "doseTimestamp": "2026-03-01T08:00:00Z", "amount": 10}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "concentrations.jsonl"), []byte(concentrations), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feedback.jsonl"), []byte(feedback), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dose.jsonl"), []byte(dose), 0644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	writeCollections(t, filepath.Join(dataDir, "collections"))

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Fusion.FeedbackTolerance = 2 * time.Hour
	cfg.Fusion.DoseTolerance = 6 * time.Hour
	return cfg
}

func TestRunFuseEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(cfg)
	require.NoError(t, err)

	report, err := application.RunFuse(context.Background())
	require.NoError(t, err)

	// One row per concentration event.
	assert.Equal(t, int64(3), report.Summary.Rows)
	assert.Equal(t, int64(2), report.Summary.Users)

	// Alice's 10:00 reading matches the 11:30 feedback and the 08:00 dose;
	// her 14:00 reading still matches the dose but the feedback is at 2.5h.
	// Bob has neither.
	assert.Equal(t, int64(1), report.Summary.FeedbackMatched)
	assert.Equal(t, int64(2), report.Summary.FeedbackAbsent)
	assert.Equal(t, int64(2), report.Summary.DoseMatched)
	assert.Equal(t, int64(1), report.Summary.DoseAbsent)

	// The feedback record without a user is dropped and counted.
	assert.Equal(t, int64(1), report.Summary.Rejections["feedback"]["missing_user"])

	// Dataset and success marker exist.
	data, err := os.ReadFile(report.OutputPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	sidecar, err := sink.ReadSidecar(report.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, sidecar.RunID)
	assert.Equal(t, int64(3), sidecar.Rows)
	assert.Equal(t, report.SHA256, sidecar.SHA256)
}

func TestRunFuseRecordsRunInCatalog(t *testing.T) {
	cfg := testConfig(t)
	application, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	report, err := application.RunFuse(ctx)
	require.NoError(t, err)

	catalog, err := manifest.NewCatalog(cfg.ManifestPath)
	require.NoError(t, err)
	defer catalog.Close()

	record, err := catalog.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusSuccess, record.Status)
	assert.Equal(t, int64(3), record.RowCount)
	assert.Equal(t, int64(2), record.UserCount)
	assert.Equal(t, report.SHA256, record.OutputSHA256)
	require.NotNil(t, record.FinishedAt)

	rejections, err := catalog.GetRejections(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, rejections["feedback/missing_user"])
}

func TestRunFuseDeterministicOutput(t *testing.T) {
	cfg := testConfig(t)

	var digests []string
	for i := 0; i < 2; i++ {
		application, err := New(cfg)
		require.NoError(t, err)
		report, err := application.RunFuse(context.Background())
		require.NoError(t, err)
		digests = append(digests, report.SHA256)
	}
	assert.Equal(t, digests[0], digests[1])
}

func TestRunFuseMarksFailedRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Path = filepath.Join(cfg.DataDir, "no-such-collections")

	application, err := New(cfg)
	require.NoError(t, err)

	_, err = application.RunFuse(context.Background())
	require.Error(t, err)

	catalog, err := manifest.NewCatalog(cfg.ManifestPath)
	require.NoError(t, err)
	defer catalog.Close()

	runs, err := catalog.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, manifest.StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].ErrorMessage)
}

func TestRunFusePublishesToLocalStorage(t *testing.T) {
	cfg := testConfig(t)
	publishDir := t.TempDir()
	cfg.Sink.Publish = true
	cfg.Sink.PublishBucket = publishDir

	application, err := New(cfg)
	require.NoError(t, err)

	report, err := application.RunFuse(context.Background())
	require.NoError(t, err)

	published := filepath.Join(publishDir, "datasets", report.RunID, "dataset.csv")
	data, err := os.ReadFile(published)
	require.NoError(t, err)
	local, _ := os.ReadFile(report.OutputPath)
	assert.Equal(t, local, data)

	_, err = os.Stat(filepath.Join(publishDir, "datasets", report.RunID, "dataset.csv.meta.json"))
	require.NoError(t, err)
}

func TestRunDiscover(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeDiscover

	application, err := New(cfg)
	require.NoError(t, err)

	report, err := application.RunDiscover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"concentrations", "dose", "feedback"}, report.Collections)
	assert.Equal(t, 3, report.Counts["concentrations"])
	assert.Equal(t, 2, report.Counts["feedback"])
	assert.Equal(t, 1, report.Counts["dose"])
	assert.Equal(t, []string{"timestamp", "user", "value"}, report.Fields["concentrations"])
	assert.Equal(t, []string{"amount", "doseTimestamp", "user"}, report.Fields["dose"])
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Fusion.FeedbackTolerance = -time.Hour

	_, err := New(cfg)
	require.Error(t, err)
}
