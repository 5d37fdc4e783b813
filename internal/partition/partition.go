// Package partition groups normalized events into per-user sub-streams
// sorted ascending by timestamp. The ordering established here is a
// precondition for the fusion engine's forward-only cursors.
package partition

import (
	"sort"

	"github.com/tempofuse/tempofuse/pkg/types"
)

// UserStreams maps a user ID to that user's time-ordered events for one
// stream kind. Users absent from the stream simply have no entry; lookups
// return a nil (empty) slice, never an error.
type UserStreams map[string][]types.Event

// ByUser partitions one stream's events by user and sorts each sub-stream
// ascending by timestamp. The sort is stable so that records with equal
// timestamps keep their arrival order, keeping the downstream join
// deterministic.
func ByUser(events []types.Event) UserStreams {
	streams := make(UserStreams)
	for _, e := range events {
		streams[e.UserID] = append(streams[e.UserID], e)
	}

	for _, sub := range streams {
		sort.SliceStable(sub, func(i, j int) bool {
			return sub[i].Timestamp.Before(sub[j].Timestamp)
		})
	}

	return streams
}

// Users returns the sorted union of user IDs across any number of
// partitioned streams. The ordering makes concurrent fusion output
// reproducible.
func Users(streams ...UserStreams) []string {
	seen := make(map[string]struct{})
	for _, s := range streams {
		for user := range s {
			seen[user] = struct{}{}
		}
	}

	users := make([]string, 0, len(seen))
	for user := range seen {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}
