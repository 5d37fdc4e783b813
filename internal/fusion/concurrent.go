package fusion

import (
	"context"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	pipeerrors "github.com/tempofuse/tempofuse/internal/errors"
	"github.com/tempofuse/tempofuse/internal/partition"
	"github.com/tempofuse/tempofuse/pkg/types"
)

// Runner executes fusion across users, optionally in parallel. Each user's
// three sub-streams are one unit of work; results are concatenated in
// sorted user order so output is reproducible regardless of worker count.
type Runner struct {
	engine  *Engine
	workers int
}

// NewRunner creates a runner with the given worker count (1 = serial).
func NewRunner(engine *Engine, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{engine: engine, workers: workers}
}

// Run fuses every user that has at least one concentration event. A
// cancelled context aborts between users and returns no rows at all,
// preserving the all-or-nothing-per-user guarantee.
func (r *Runner) Run(ctx context.Context, concentration, feedback, dose partition.UserStreams) ([]types.FusedRow, error) {
	users := partition.Users(concentration)

	if r.workers == 1 || len(users) < 2 {
		return r.runSerial(ctx, users, concentration, feedback, dose)
	}
	return r.runParallel(ctx, users, concentration, feedback, dose)
}

func (r *Runner) runSerial(ctx context.Context, users []string, concentration, feedback, dose partition.UserStreams) ([]types.FusedRow, error) {
	var rows []types.FusedRow
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return nil, pipeerrors.Wrap(pipeerrors.ErrCategoryFusion, pipeerrors.CodeRunCancelled,
				"fusion cancelled between users", err)
		}
		rows = append(rows, r.engine.FuseUser(user, concentration[user], feedback[user], dose[user])...)
	}
	return rows, nil
}

func (r *Runner) runParallel(ctx context.Context, users []string, concentration, feedback, dose partition.UserStreams) ([]types.FusedRow, error) {
	workers := r.workers
	if workers > len(users) {
		workers = len(users)
	}

	// Users are sharded to workers by hash, each worker buffering its own
	// per-user results. Nothing is shared between workers until collection.
	perUser := make([][]types.FusedRow, len(users))
	shardOf := func(i int) int {
		return int(murmur3.Sum32([]byte(users[i])) % uint32(workers))
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i, user := range users {
				if shardOf(i) != w {
					continue
				}
				if err := gctx.Err(); err != nil {
					return pipeerrors.Wrap(pipeerrors.ErrCategoryFusion, pipeerrors.CodeRunCancelled,
						"fusion cancelled between users", err)
				}
				perUser[i] = r.engine.FuseUser(user, concentration[user], feedback[user], dose[user])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Concatenate in sorted user order for deterministic output
	var rows []types.FusedRow
	for _, userRows := range perUser {
		rows = append(rows, userRows...)
	}
	return rows, nil
}
