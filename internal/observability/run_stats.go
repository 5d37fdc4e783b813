package observability

import (
	"sync"
	"time"

	"github.com/tempofuse/tempofuse/pkg/types"
)

// RunStats accumulates counters for a single pipeline run.
// All methods are thread-safe; fusion workers report per-user results
// concurrently. When a Metrics instance is attached, every update is
// mirrored into the Prometheus counters.
type RunStats struct {
	mu      sync.Mutex
	metrics *Metrics
	started time.Time

	ingested   map[string]int64
	rejections map[string]map[string]int64 // stream → reason → count

	rows            int64
	users           int64
	feedbackMatched int64
	feedbackAbsent  int64
	doseMatched     int64
	doseAbsent      int64
}

// RunSummary is an immutable snapshot of a run's counters.
type RunSummary struct {
	Duration        time.Duration
	Ingested        map[string]int64
	Rejections      map[string]map[string]int64
	Rows            int64
	Users           int64
	FeedbackMatched int64
	FeedbackAbsent  int64
	DoseMatched     int64
	DoseAbsent      int64
}

// NewRunStats creates a run statistics tracker. metrics may be nil.
func NewRunStats(metrics *Metrics) *RunStats {
	return &RunStats{
		metrics:    metrics,
		started:    time.Now(),
		ingested:   make(map[string]int64),
		rejections: make(map[string]map[string]int64),
	}
}

// RecordIngested counts raw records read from a source stream.
func (s *RunStats) RecordIngested(stream types.StreamKind, n int) {
	s.mu.Lock()
	s.ingested[string(stream)] += int64(n)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordsIngested.WithLabelValues(string(stream)).Add(float64(n))
	}
}

// RecordRejections counts records dropped during normalization, by reason.
func (s *RunStats) RecordRejections(stream types.StreamKind, counts map[string]int) {
	if len(counts) == 0 {
		return
	}

	s.mu.Lock()
	byReason, ok := s.rejections[string(stream)]
	if !ok {
		byReason = make(map[string]int64)
		s.rejections[string(stream)] = byReason
	}
	for reason, count := range counts {
		byReason[reason] += int64(count)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		for reason, count := range counts {
			s.metrics.RecordsRejected.WithLabelValues(string(stream), reason).Add(float64(count))
		}
	}
}

// RecordUser counts one fused user stream and classifies its rows by
// feedback and dose match outcome.
func (s *RunStats) RecordUser(rows []types.FusedRow) {
	var fbMatched, fbAbsent, doseMatched, doseAbsent int64
	for _, row := range rows {
		if row.HasFeedback() {
			fbMatched++
		} else {
			fbAbsent++
		}
		if row.HasDose() {
			doseMatched++
		} else {
			doseAbsent++
		}
	}

	s.mu.Lock()
	s.users++
	s.rows += int64(len(rows))
	s.feedbackMatched += fbMatched
	s.feedbackAbsent += fbAbsent
	s.doseMatched += doseMatched
	s.doseAbsent += doseAbsent
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UsersProcessed.Inc()
		s.metrics.RowsFused.Add(float64(len(rows)))
		s.metrics.FeedbackMatched.Add(float64(fbMatched))
		s.metrics.FeedbackAbsent.Add(float64(fbAbsent))
		s.metrics.DoseMatched.Add(float64(doseMatched))
		s.metrics.DoseAbsent.Add(float64(doseAbsent))
	}
}

// Finish records the run duration and returns the final summary.
func (s *RunStats) Finish() RunSummary {
	summary := s.Summary()
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(summary.Duration.Seconds())
	}
	return summary
}

// Summary returns a deep-copied snapshot of the current counters.
func (s *RunStats) Summary() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	ingested := make(map[string]int64, len(s.ingested))
	for stream, n := range s.ingested {
		ingested[stream] = n
	}
	rejections := make(map[string]map[string]int64, len(s.rejections))
	for stream, byReason := range s.rejections {
		reasonCopy := make(map[string]int64, len(byReason))
		for reason, n := range byReason {
			reasonCopy[reason] = n
		}
		rejections[stream] = reasonCopy
	}

	return RunSummary{
		Duration:        time.Since(s.started),
		Ingested:        ingested,
		Rejections:      rejections,
		Rows:            s.rows,
		Users:           s.users,
		FeedbackMatched: s.feedbackMatched,
		FeedbackAbsent:  s.feedbackAbsent,
		DoseMatched:     s.doseMatched,
		DoseAbsent:      s.doseAbsent,
	}
}
