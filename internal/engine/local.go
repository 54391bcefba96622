package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hybridlife/internal/comm"
)

// RunLocal runs cfg on a group of workers goroutines sharing one process
// and returns rank 0's results. The first worker to fail cancels the rest.
func RunLocal(ctx context.Context, cfg Config, workers int) ([]Result, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: worker count %d", ErrConfig, workers)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	group := comm.NewLocalGroup(workers)
	perRank := make([][]Result, workers)

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < workers; rank++ {
		g.Go(func() error {
			e, err := New(group.Member(rank), cfg)
			if err != nil {
				return err
			}
			res, err := e.Run(gctx)
			perRank[rank] = res
			if err != nil {
				return fmt.Errorf("worker %d: %w", rank, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perRank[0], nil
}
