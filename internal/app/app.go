// Package app provides the unified application lifecycle for the Tempofuse pipeline.
package app

import (
	"context"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/tempofuse/tempofuse/internal/config"
	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/internal/fusion"
	"github.com/tempofuse/tempofuse/internal/manifest"
	"github.com/tempofuse/tempofuse/internal/normalize"
	"github.com/tempofuse/tempofuse/internal/observability"
	"github.com/tempofuse/tempofuse/internal/partition"
	"github.com/tempofuse/tempofuse/internal/sink"
	"github.com/tempofuse/tempofuse/internal/source"
	"github.com/tempofuse/tempofuse/internal/storage"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// App runs the Tempofuse pipeline with the given configuration.
type App struct {
	cfg     *config.Config
	metrics *observability.Metrics
}

// RunReport summarizes a completed fuse run.
type RunReport struct {
	RunID      string
	OutputPath string
	SHA256     string
	Summary    observability.RunSummary
}

// DiscoverReport summarizes the collections found in a document source.
type DiscoverReport struct {
	Collections []string
	Counts      map[string]int
	Fields      map[string][]string
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, pipeerrors.NewConfigError("invalid configuration", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, pipeerrors.NewConfigError("failed to create directories", err)
	}

	return &App{
		cfg:     cfg,
		metrics: observability.NewMetrics(),
	}, nil
}

// Metrics returns the app's metrics registry holder.
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Run dispatches on the configured mode.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case config.ModeFuse:
		_, err := a.RunFuse(ctx)
		return err
	case config.ModeDiscover:
		_, err := a.RunDiscover(ctx)
		return err
	default:
		return pipeerrors.NewConfigError(fmt.Sprintf("unknown mode %q", a.cfg.Mode), nil)
	}
}

// RunFuse executes the full fusion pipeline: fetch, normalize, partition,
// fuse, and write the dataset. Every run is recorded in the run catalog;
// a failed run is marked failed before the error is returned.
func (a *App) RunFuse(ctx context.Context) (*RunReport, error) {
	catalog, err := manifest.NewCatalog(a.cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	defer catalog.Close()

	runID, err := catalog.BeginRun(ctx, a.cfg.Fingerprint())
	if err != nil {
		return nil, err
	}
	log.Printf("Run %s started (source=%s workers=%d)", runID, a.cfg.Source.Type, a.cfg.Fusion.Workers)

	report, err := a.fuse(ctx, catalog, runID)
	if err != nil {
		if failErr := catalog.FailRun(context.WithoutCancel(ctx), runID, err); failErr != nil {
			log.Printf("Run %s: failed to record failure: %v", runID, failErr)
		}
		return nil, err
	}
	return report, nil
}

func (a *App) fuse(ctx context.Context, catalog manifest.Catalog, runID string) (*RunReport, error) {
	stats := observability.NewRunStats(a.metrics)

	src, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	normalizer := normalize.New(a.cfg.Source.Renames)

	streams := make(map[types.StreamKind][]types.Event, len(types.Streams))
	for _, kind := range types.Streams {
		records, err := src.FetchStream(ctx, kind)
		if err != nil {
			return nil, err
		}
		stats.RecordIngested(kind, len(records))

		events, rejections := normalizer.NormalizeStream(records, kind)
		if rejections.Total() > 0 {
			log.Printf("Run %s: dropped %d %s records (%v)", runID, rejections.Total(), kind, map[string]int(rejections))
			stats.RecordRejections(kind, rejections)
			if err := catalog.RecordRejections(ctx, runID, string(kind), rejections); err != nil {
				return nil, err
			}
		}
		streams[kind] = events
	}

	engine, err := fusion.NewEngine(fusion.Tolerances{
		Feedback: a.cfg.Fusion.FeedbackTolerance,
		Dose:     a.cfg.Fusion.DoseTolerance,
	})
	if err != nil {
		return nil, err
	}

	runner := fusion.NewRunner(engine, a.cfg.Fusion.Workers)
	rows, err := runner.Run(ctx,
		partition.ByUser(streams[types.StreamConcentration]),
		partition.ByUser(streams[types.StreamFeedback]),
		partition.ByUser(streams[types.StreamDose]),
	)
	if err != nil {
		return nil, err
	}
	recordPerUser(stats, rows)

	csvSink := sink.NewCSVSink(a.cfg.Sink.OutputPath, a.cfg.Sink.Compress)
	result, err := csvSink.Write(ctx, runID, rows)
	if err != nil {
		return nil, err
	}

	if a.cfg.Sink.Publish {
		if err := a.publish(ctx, runID, result); err != nil {
			return nil, err
		}
	}

	summary := stats.Finish()
	if err := catalog.CompleteRun(ctx, runID, &manifest.RunResult{
		OutputPath:      result.Path,
		OutputSHA256:    result.SHA256,
		RowCount:        summary.Rows,
		UserCount:       summary.Users,
		FeedbackMatched: summary.FeedbackMatched,
		FeedbackAbsent:  summary.FeedbackAbsent,
		DoseMatched:     summary.DoseMatched,
		DoseAbsent:      summary.DoseAbsent,
	}); err != nil {
		return nil, err
	}

	log.Printf("Run %s finished in %s: %d rows for %d users (feedback %d/%d, dose %d/%d) -> %s",
		runID, summary.Duration.Round(time.Millisecond), summary.Rows, summary.Users,
		summary.FeedbackMatched, summary.FeedbackAbsent,
		summary.DoseMatched, summary.DoseAbsent, result.Path)

	return &RunReport{
		RunID:      runID,
		OutputPath: result.Path,
		SHA256:     result.SHA256,
		Summary:    summary,
	}, nil
}

// recordPerUser splits the fused rows back into contiguous per-user groups.
// Rows arrive ordered by user, so a user change marks a group boundary.
func recordPerUser(stats *observability.RunStats, rows []types.FusedRow) {
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i == len(rows) || rows[i].User != rows[start].User {
			stats.RecordUser(rows[start:i])
			start = i
		}
	}
}

// publish uploads the dataset and its sidecar to object storage under
// datasets/<runID>/. The sidecar goes last so readers can treat its
// presence as the success marker, mirroring the local write order.
func (a *App) publish(ctx context.Context, runID string, result *sink.WriteResult) error {
	store, err := a.openPublishStorage(ctx)
	if err != nil {
		return pipeerrors.NewSinkError(pipeerrors.CodePublishFailed, "failed to open publish storage", err)
	}

	prefix := "datasets/" + runID
	uploads := []string{result.Path}
	if result.CompressedPath != "" {
		uploads = append(uploads, result.CompressedPath)
	}
	uploads = append(uploads, result.SidecarPath)

	for _, local := range uploads {
		objectPath := prefix + "/" + path.Base(local)
		if err := store.Upload(ctx, local, objectPath); err != nil {
			return pipeerrors.NewSinkError(pipeerrors.CodePublishFailed,
				fmt.Sprintf("failed to upload %s", objectPath), err)
		}
	}

	log.Printf("Run %s: published dataset to %s/%s", runID, a.cfg.Sink.PublishBucket, prefix)
	return nil
}

func (a *App) openPublishStorage(ctx context.Context) (storage.ObjectStorage, error) {
	bucket := a.cfg.Sink.PublishBucket
	if strings.HasPrefix(bucket, "s3://") {
		return storage.NewS3Storage(ctx, strings.TrimPrefix(bucket, "s3://"), storage.S3Config{
			Region:       a.cfg.Source.S3.Region,
			Endpoint:     a.cfg.Source.S3.Endpoint,
			UsePathStyle: a.cfg.Source.S3.Endpoint != "",
		})
	}
	return storage.NewLocalStorage(bucket)
}

// RunDiscover walks the document source and logs what it finds: every
// collection, and record counts for the streams the pipeline consumes.
func (a *App) RunDiscover(ctx context.Context) (*DiscoverReport, error) {
	src, err := a.openSource(ctx)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	collections, err := src.Collections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(collections)

	report := &DiscoverReport{
		Collections: collections,
		Counts:      make(map[string]int, len(types.Streams)),
		Fields:      make(map[string][]string, len(types.Streams)),
	}
	for _, kind := range types.Streams {
		records, err := src.FetchStream(ctx, kind)
		if err != nil {
			return nil, err
		}
		collection, _ := source.CollectionFor(kind)
		report.Counts[collection] = len(records)
		report.Fields[collection] = sampleFields(records)
	}

	log.Printf("Discovered %d collections: %s", len(collections), strings.Join(collections, ", "))
	for _, collection := range sortedCountKeys(report.Counts) {
		log.Printf("  %s: %d records, fields: %s",
			collection, report.Counts[collection], strings.Join(report.Fields[collection], ", "))
	}
	return report, nil
}

// sampleFields returns the sorted union of field names seen in the first
// few documents of a collection.
func sampleFields(records []source.RawRecord) []string {
	const sampleSize = 10
	seen := make(map[string]struct{})
	for i, rec := range records {
		if i == sampleSize {
			break
		}
		for name := range rec.Fields {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedCountKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// openSource constructs the configured document source.
func (a *App) openSource(ctx context.Context) (source.DocumentSource, error) {
	switch a.cfg.Source.Type {
	case "sqlite":
		return source.NewSQLiteSource(a.cfg.Source.Path)
	case "dir":
		return source.NewDirSource(a.cfg.Source.Path)
	case "s3":
		return source.NewS3Source(ctx, a.cfg.Source.S3.Bucket, a.cfg.Source.S3.Prefix, source.S3Options{
			Region:       a.cfg.Source.S3.Region,
			Endpoint:     a.cfg.Source.S3.Endpoint,
			UsePathStyle: a.cfg.Source.S3.Endpoint != "",
		})
	default:
		return nil, pipeerrors.NewConfigError(
			fmt.Sprintf("unknown source type %q", a.cfg.Source.Type), nil)
	}
}
