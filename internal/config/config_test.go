package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Hour, cfg.Fusion.FeedbackTolerance)
	assert.Equal(t, 6*time.Hour, cfg.Fusion.DoseTolerance)
	assert.Equal(t, ModeFuse, cfg.Mode)
}

func TestValidateRejectsNegativeTolerances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()

	cfg.Fusion.FeedbackTolerance = -time.Minute
	assert.Error(t, cfg.Validate())

	cfg.Fusion.FeedbackTolerance = time.Hour
	cfg.Fusion.DoseTolerance = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	cfg.Mode = "train"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsS3WithoutBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Type = "s3"
	cfg.Resolve()
	assert.Error(t, cfg.Validate())

	cfg.Source.S3.Bucket = "exports"
	assert.NoError(t, cfg.Validate())
}

func TestResolveDerivesPathsFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/tempofuse"
	cfg.Resolve()

	assert.Equal(t, filepath.Join("/var/lib/tempofuse", "collections"), cfg.Source.Path)
	assert.Equal(t, filepath.Join("/var/lib/tempofuse", "dataset.csv"), cfg.Sink.OutputPath)
	assert.Equal(t, filepath.Join("/var/lib/tempofuse", "runs.db"), cfg.ManifestPath)
}

func TestResolveInstallsDoseRename(t *testing.T) {
	cfg := &Config{Mode: ModeFuse}
	cfg.Resolve()

	renames, ok := cfg.Source.Renames["dose"]
	require.True(t, ok, "dose stream rename map missing")
	assert.Equal(t, "timestamp", renames["doseTimestamp"])
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
mode: fuse
data_dir: /tmp/tf
source:
  type: sqlite
  path: /tmp/tf/store.db
fusion:
  workers: 4
sink:
  compress: true
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Source.Type)
	assert.Equal(t, "/tmp/tf/store.db", cfg.Source.Path)
	assert.Equal(t, 4, cfg.Fusion.Workers)
	assert.True(t, cfg.Sink.Compress)
	// Defaults survive a partial file
	assert.Equal(t, 2*time.Hour, cfg.Fusion.FeedbackTolerance)
}

func TestLoadFromFileUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'fuse'"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TEMPOFUSE_MODE", "discover")
	t.Setenv("TEMPOFUSE_SOURCE_TYPE", "sqlite")
	t.Setenv("TEMPOFUSE_FEEDBACK_TOLERANCE", "30m")
	t.Setenv("TEMPOFUSE_FUSION_WORKERS", "8")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, ModeDiscover, cfg.Mode)
	assert.Equal(t, "sqlite", cfg.Source.Type)
	assert.Equal(t, 30*time.Minute, cfg.Fusion.FeedbackTolerance)
	assert.Equal(t, 8, cfg.Fusion.Workers)
}

func TestFingerprint(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Fusion.FeedbackTolerance = 90 * time.Minute
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)
}
