// Package main implements the tempofuse binary.
// It runs the fusion pipeline once (--mode fuse) or inspects the document
// source (--mode discover), then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tempofuse/tempofuse/internal/app"
	"github.com/tempofuse/tempofuse/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		sourceType  string
		sourcePath  string
		outputPath  string
		workers     int
		feedbackTol time.Duration
		doseTol     time.Duration
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Pipeline mode: fuse, discover")
	flag.StringVar(&sourceType, "source", "", "Document source type: sqlite, dir, s3")
	flag.StringVar(&sourcePath, "source-path", "", "SQLite database path or collection directory")
	flag.StringVar(&outputPath, "out", "", "Destination CSV path")
	flag.IntVar(&workers, "workers", 0, "Number of parallel fusion workers (1 = serial)")
	flag.DurationVar(&feedbackTol, "feedback-tolerance", 0, "Symmetric window for nearest feedback matching")
	flag.DurationVar(&doseTol, "dose-tolerance", 0, "Backward window for dose matching")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tempofuse - Temporal Fusion Pipeline For Medical Event Streams\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tempofuse [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tempofuse --data-dir /data/tempofuse\n")
		fmt.Fprintf(os.Stderr, "  tempofuse --mode discover --source dir --source-path ./collections\n")
		fmt.Fprintf(os.Stderr, "  tempofuse --config /etc/tempofuse/config.yaml --workers 8\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_MODE                Pipeline mode (fuse, discover)\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_DATA_DIR            Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_SOURCE_TYPE         Document source type (sqlite, dir, s3)\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_S3_BUCKET           S3 bucket holding collection exports\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_FEEDBACK_TOLERANCE  Feedback match window (e.g. 2h)\n")
		fmt.Fprintf(os.Stderr, "  TEMPOFUSE_DOSE_TOLERANCE      Dose match window (e.g. 6h)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("tempofuse version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, mode, sourceType, sourcePath, outputPath, workers, feedbackTol, doseTol)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// A signal during the run cancels the context; the sink never renames
	// a partial dataset into place, so interruption leaves no success marker.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, mode, sourceType, sourcePath, outputPath string, workers int, feedbackTol, doseTol time.Duration) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if sourceType != "" {
		cfg.Source.Type = sourceType
	}
	if sourcePath != "" {
		cfg.Source.Path = sourcePath
	}
	if outputPath != "" {
		cfg.Sink.OutputPath = outputPath
	}
	if workers > 0 {
		cfg.Fusion.Workers = workers
	}
	if feedbackTol != 0 {
		cfg.Fusion.FeedbackTolerance = feedbackTol
	}
	if doseTol != 0 {
		cfg.Fusion.DoseTolerance = doseTol
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      TEMPOFUSE                            ║")
	log.Printf("║     Temporal Fusion Pipeline For Medical Event Streams    ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Source:   %s", cfg.Source.Type)
	log.Printf("")

	if cfg.Mode == config.ModeFuse {
		log.Printf("Fusion:")
		log.Printf("  Feedback Tolerance: %v", cfg.Fusion.FeedbackTolerance)
		log.Printf("  Dose Tolerance:     %v", cfg.Fusion.DoseTolerance)
		log.Printf("  Workers:            %d", cfg.Fusion.Workers)
		log.Printf("  Output:             %s", cfg.Sink.OutputPath)
	}

	log.Printf("")
}
