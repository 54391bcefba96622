// Package halo refreshes a slab's ghost rows from its row-adjacent
// neighbours before each generation.
package halo

import (
	"context"
	"fmt"

	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/grid"
	"github.com/dreamware/hybridlife/internal/partition"
)

// Exchange sends this worker's last owned row to its successor and first
// owned row to its predecessor, and stores what they send back in the
// bottom and top ghost rows. Each side is one combined send-receive, the
// successor first, so the whole chain pairs up without deadlock.
//
// A side with no neighbour is skipped and its ghost row stays dead. A worker
// owning no rows skips both sides. tag must be identical on both workers of
// a pair and unique per call within a run.
func Exchange(ctx context.Context, c comm.Comm, g *grid.Grid, p partition.Partition, tag int64) error {
	last := g.Rows()

	if p.HasSuccessor() {
		row, err := c.SendRecv(ctx, p.WorkerIndex+1, tag, g.Row(last))
		if err != nil {
			return fmt.Errorf("halo exchange with successor %d: %w", p.WorkerIndex+1, err)
		}
		if err := g.SetRow(last+1, row); err != nil {
			return fmt.Errorf("halo row from successor %d: %w", p.WorkerIndex+1, err)
		}
	}

	if p.HasPredecessor() {
		row, err := c.SendRecv(ctx, p.WorkerIndex-1, tag, g.Row(1))
		if err != nil {
			return fmt.Errorf("halo exchange with predecessor %d: %w", p.WorkerIndex-1, err)
		}
		if err := g.SetRow(0, row); err != nil {
			return fmt.Errorf("halo row from predecessor %d: %w", p.WorkerIndex-1, err)
		}
	}

	return nil
}
