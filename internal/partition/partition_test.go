package partition

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempofuse/tempofuse/pkg/types"
)

func event(user string, ts time.Time, seq int) types.Event {
	return types.Event{
		UserID:    user,
		Timestamp: ts,
		Kind:      types.StreamConcentration,
		Payload:   map[string]any{"seq": seq},
	}
}

func TestByUserGroupsAndSorts(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []types.Event{
		event("u2", base.Add(2*time.Hour), 0),
		event("u1", base.Add(time.Hour), 1),
		event("u1", base, 2),
		event("u2", base, 3),
		event("u1", base.Add(30*time.Minute), 4),
	}

	streams := ByUser(events)
	require.Len(t, streams, 2)

	u1 := streams["u1"]
	require.Len(t, u1, 3)
	assert.Equal(t, base, u1[0].Timestamp)
	assert.Equal(t, base.Add(30*time.Minute), u1[1].Timestamp)
	assert.Equal(t, base.Add(time.Hour), u1[2].Timestamp)

	u2 := streams["u2"]
	require.Len(t, u2, 2)
	assert.True(t, u2[0].Timestamp.Before(u2[1].Timestamp))
}

func TestByUserStableOnTies(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var events []types.Event
	for i := 0; i < 10; i++ {
		events = append(events, event("u1", ts, i))
	}

	streams := ByUser(events)
	for i, e := range streams["u1"] {
		assert.Equal(t, i, e.Payload["seq"], "tie at index %d must keep arrival order", i)
	}
}

func TestByUserMissingUserYieldsEmptySlice(t *testing.T) {
	streams := ByUser(nil)
	assert.Empty(t, streams["ghost"])
}

func TestUsersSortedUnion(t *testing.T) {
	ts := time.Now().UTC()
	conc := ByUser([]types.Event{event("u3", ts, 0), event("u1", ts, 1)})
	feedback := ByUser([]types.Event{event("u2", ts, 2)})
	dose := ByUser([]types.Event{event("u1", ts, 3)})

	users := Users(conc, feedback, dose)
	assert.Equal(t, []string{"u1", "u2", "u3"}, users)
}

func TestUsersDeterministic(t *testing.T) {
	ts := time.Now().UTC()
	var events []types.Event
	for i := 0; i < 50; i++ {
		events = append(events, event(fmt.Sprintf("user-%02d", 49-i), ts, i))
	}
	streams := ByUser(events)

	first := Users(streams)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Users(streams))
	}
}
