package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tempofuse/tempofuse/internal/fusion"
	"github.com/tempofuse/tempofuse/internal/sink"
	"github.com/tempofuse/tempofuse/pkg/types"
)

func newBenchEngine(b *testing.B) *fusion.Engine {
	b.Helper()
	engine, err := fusion.NewEngine(fusion.Tolerances{
		Feedback: 2 * time.Hour,
		Dose:     6 * time.Hour,
	})
	if err != nil {
		b.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

// BenchmarkFuseSerial measures single-worker fusion throughput.
func BenchmarkFuseSerial(b *testing.B) {
	users, events := benchScale()
	concentration, feedback, dose := generateStreams(users, events)
	runner := fusion.NewRunner(newBenchEngine(b), 1)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rows, err := runner.Run(ctx, concentration, feedback, dose)
		if err != nil {
			b.Fatalf("fusion failed: %v", err)
		}
		if len(rows) == 0 {
			b.Fatal("expected fused rows")
		}
	}
	b.ReportMetric(float64(users*events*b.N)/b.Elapsed().Seconds(), "events/s")
}

// BenchmarkFuseParallel measures fusion throughput at several worker counts.
func BenchmarkFuseParallel(b *testing.B) {
	users, events := benchScale()
	concentration, feedback, dose := generateStreams(users, events)
	ctx := context.Background()

	for _, workers := range []int{2, 4, 8} {
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			runner := fusion.NewRunner(newBenchEngine(b), workers)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := runner.Run(ctx, concentration, feedback, dose); err != nil {
					b.Fatalf("fusion failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkSinkWrite measures dataset serialization throughput.
func BenchmarkSinkWrite(b *testing.B) {
	users, events := benchScale()
	concentration, feedback, dose := generateStreams(users, events)
	runner := fusion.NewRunner(newBenchEngine(b), 4)
	ctx := context.Background()

	rows, err := runner.Run(ctx, concentration, feedback, dose)
	if err != nil {
		b.Fatalf("fusion failed: %v", err)
	}

	dir := b.TempDir()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		csvSink := sink.NewCSVSink(filepath.Join(dir, fmt.Sprintf("dataset-%d.csv", i)), false)
		result, err := csvSink.Write(ctx, "bench", rows)
		if err != nil {
			b.Fatalf("sink write failed: %v", err)
		}
		if result.Rows != int64(len(rows)) {
			b.Fatalf("row count mismatch: %d != %d", result.Rows, len(rows))
		}
	}
	b.ReportMetric(float64(len(rows)*b.N)/b.Elapsed().Seconds(), "rows/s")
}

var benchRows []types.FusedRow

// BenchmarkFuseUserSingle measures the per-user engine in isolation.
func BenchmarkFuseUserSingle(b *testing.B) {
	_, events := benchScale()
	concentration, feedback, dose := generateStreams(1, events)
	engine := newBenchEngine(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchRows = engine.FuseUser("user-0000",
			concentration["user-0000"], feedback["user-0000"], dose["user-0000"])
	}
}
