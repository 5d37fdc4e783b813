package benchmark

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/tempofuse/tempofuse/internal/partition"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// benchScale reads benchmark sizing from the environment. It respects
// TEMPOFUSE_BENCH_USERS and TEMPOFUSE_BENCH_EVENTS from .env or the
// environment, falling back to a medium workload.
func benchScale() (users, eventsPerUser int) {
	// Try loading .env from project root (../../.env relative to test/benchmark)
	_ = godotenv.Load("../../.env")

	users = 200
	eventsPerUser = 500

	if v := os.Getenv("TEMPOFUSE_BENCH_USERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			users = n
		}
	}
	if v := os.Getenv("TEMPOFUSE_BENCH_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			eventsPerUser = n
		}
	}
	return users, eventsPerUser
}

// generateStreams builds synthetic per-user event streams. The generator
// is seeded so every benchmark run fuses identical input.
func generateStreams(users, eventsPerUser int) (concentration, feedback, dose partition.UserStreams) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	concEvents := make([]types.Event, 0, users*eventsPerUser)
	fbEvents := make([]types.Event, 0, users*eventsPerUser/2)
	doseEvents := make([]types.Event, 0, users*eventsPerUser/4)

	for u := 0; u < users; u++ {
		userID := fmt.Sprintf("user-%04d", u)
		for e := 0; e < eventsPerUser; e++ {
			at := base.Add(time.Duration(rng.Intn(90*24*60)) * time.Minute)
			concEvents = append(concEvents, types.Event{
				UserID:    userID,
				Timestamp: at,
				Kind:      types.StreamConcentration,
				Payload:   map[string]any{"value": rng.Float64() * 10},
			})
			if e%2 == 0 {
				fbEvents = append(fbEvents, types.Event{
					UserID:    userID,
					Timestamp: at.Add(time.Duration(rng.Intn(240)-120) * time.Minute),
					Kind:      types.StreamFeedback,
					Payload:   map[string]any{"mood": float64(rng.Intn(5))},
				})
			}
			if e%4 == 0 {
				doseEvents = append(doseEvents, types.Event{
					UserID:    userID,
					Timestamp: at.Add(-time.Duration(rng.Intn(480)) * time.Minute),
					Kind:      types.StreamDose,
					Payload:   map[string]any{"doseTaken": 1},
				})
			}
		}
	}

	return partition.ByUser(concEvents), partition.ByUser(fbEvents), partition.ByUser(doseEvents)
}
