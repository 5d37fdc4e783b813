// Package config provides unified configuration for the Tempofuse pipeline.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tempofuse/tempofuse/pkg/types"
)

// Mode represents the pipeline mode to run.
type Mode string

const (
	// ModeFuse runs the full fusion pipeline and writes the dataset.
	ModeFuse Mode = "fuse"

	// ModeDiscover walks the document source and prints its collections.
	ModeDiscover Mode = "discover"
)

// Config holds the unified configuration for the Tempofuse pipeline.
type Config struct {
	// Mode specifies what to run: fuse, discover
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Source configuration
	Source SourceConfig `json:"source" yaml:"source"`

	// Fusion configuration
	Fusion FusionConfig `json:"fusion" yaml:"fusion"`

	// Sink configuration
	Sink SinkConfig `json:"sink" yaml:"sink"`

	// ManifestPath is the path to the run catalog database
	ManifestPath string `json:"manifest_path" yaml:"manifest_path"`
}

// SourceConfig holds document source configuration.
type SourceConfig struct {
	// Type is the source type: sqlite, dir, s3
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database path or collection directory (for sqlite/dir types)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// Renames maps stream kind to {source field -> canonical field} renames
	// applied during normalization
	Renames map[string]map[string]string `json:"renames" yaml:"renames"`
}

// S3Config holds S3 source configuration.
type S3Config struct {
	// Bucket is the S3 bucket holding collection exports
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the object key prefix for collection exports
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FusionConfig holds temporal fusion configuration.
type FusionConfig struct {
	// FeedbackTolerance is the symmetric window for nearest feedback matching
	FeedbackTolerance time.Duration `json:"feedback_tolerance" yaml:"feedback_tolerance"`

	// DoseTolerance is the backward-only window for dose matching
	DoseTolerance time.Duration `json:"dose_tolerance" yaml:"dose_tolerance"`

	// Workers is the number of parallel per-user fusion workers (1 = serial)
	Workers int `json:"workers" yaml:"workers"`
}

// SinkConfig holds dataset sink configuration.
type SinkConfig struct {
	// OutputPath is the destination CSV path
	OutputPath string `json:"output_path" yaml:"output_path"`

	// Compress also writes a snappy-compressed copy next to the CSV
	Compress bool `json:"compress" yaml:"compress"`

	// Publish uploads the dataset and its sidecar to object storage
	Publish bool `json:"publish" yaml:"publish"`

	// PublishBucket is the destination bucket when publishing
	PublishBucket string `json:"publish_bucket" yaml:"publish_bucket"`
}

// DefaultRenames returns the canonical field renames per stream. The dose
// stream records its timestamp under doseTimestamp; the other streams
// already use the canonical name.
func DefaultRenames() map[string]map[string]string {
	return map[string]map[string]string{
		string(types.StreamDose): {"doseTimestamp": "timestamp"},
	}
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeFuse,
		DataDir: "./data/tempofuse",
		Source: SourceConfig{
			Type:    "dir",
			Renames: DefaultRenames(),
		},
		Fusion: FusionConfig{
			FeedbackTolerance: 2 * time.Hour,
			DoseTolerance:     6 * time.Hour,
			Workers:           1,
		},
		Sink: SinkConfig{
			Compress: false,
			Publish:  false,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/tempofuse"
	}

	if c.Source.Path == "" && c.Source.Type != "s3" {
		c.Source.Path = filepath.Join(c.DataDir, "collections")
	}

	if c.Sink.OutputPath == "" {
		c.Sink.OutputPath = filepath.Join(c.DataDir, "dataset.csv")
	}

	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.DataDir, "runs.db")
	}

	if c.Source.Renames == nil {
		c.Source.Renames = DefaultRenames()
	}

	if c.Fusion.Workers <= 0 {
		c.Fusion.Workers = 1
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFuse, ModeDiscover:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be fuse or discover)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Source.Type {
	case "sqlite", "dir", "s3":
		// Valid source types
	default:
		return fmt.Errorf("invalid source type: %s (must be sqlite, dir, or s3)", c.Source.Type)
	}

	if c.Source.Type == "s3" && c.Source.S3.Bucket == "" {
		return fmt.Errorf("source.s3.bucket is required when source type is s3")
	}

	if c.Fusion.FeedbackTolerance < 0 {
		return fmt.Errorf("fusion.feedback_tolerance must be non-negative, got %s", c.Fusion.FeedbackTolerance)
	}

	if c.Fusion.DoseTolerance < 0 {
		return fmt.Errorf("fusion.dose_tolerance must be non-negative, got %s", c.Fusion.DoseTolerance)
	}

	if c.Sink.Publish && c.Sink.PublishBucket == "" {
		return fmt.Errorf("sink.publish_bucket is required when sink.publish is enabled")
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the TEMPOFUSE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("TEMPOFUSE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("TEMPOFUSE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Source configuration
	if v := os.Getenv("TEMPOFUSE_SOURCE_TYPE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("TEMPOFUSE_SOURCE_PATH"); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv("TEMPOFUSE_S3_BUCKET"); v != "" {
		cfg.Source.S3.Bucket = v
	}
	if v := os.Getenv("TEMPOFUSE_S3_PREFIX"); v != "" {
		cfg.Source.S3.Prefix = v
	}
	if v := os.Getenv("TEMPOFUSE_S3_REGION"); v != "" {
		cfg.Source.S3.Region = v
	}
	if v := os.Getenv("TEMPOFUSE_S3_ENDPOINT"); v != "" {
		cfg.Source.S3.Endpoint = v
	}

	// Fusion configuration
	if v := os.Getenv("TEMPOFUSE_FEEDBACK_TOLERANCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fusion.FeedbackTolerance = d
		}
	}
	if v := os.Getenv("TEMPOFUSE_DOSE_TOLERANCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Fusion.DoseTolerance = d
		}
	}
	if v := os.Getenv("TEMPOFUSE_FUSION_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Fusion.Workers)
	}

	// Sink configuration
	if v := os.Getenv("TEMPOFUSE_OUTPUT_PATH"); v != "" {
		cfg.Sink.OutputPath = v
	}
	if v := os.Getenv("TEMPOFUSE_SINK_COMPRESS"); v != "" {
		cfg.Sink.Compress = v == "true" || v == "1"
	}
	if v := os.Getenv("TEMPOFUSE_PUBLISH_BUCKET"); v != "" {
		cfg.Sink.Publish = true
		cfg.Sink.PublishBucket = v
	}
}

// Fingerprint returns a stable hash of the resolved configuration. Stored
// with each run so the catalog can tell which settings produced a dataset.
func (c *Config) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Sink.OutputPath),
		filepath.Dir(c.ManifestPath),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
