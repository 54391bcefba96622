// Package validate decides, identically on every worker, whether a run
// ended with the glider in the bottom-right corner.
package validate

import (
	"context"
	"fmt"

	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/grid"
	"github.com/dreamware/hybridlife/internal/partition"
)

// ExpectedLive is the number of cells in the glider.
const ExpectedLive = 5

// Check sums live cells across the group and, if the total is right,
// ANDs together every worker's view of the expected footprint. Workers
// owning none of the footprint rows vote true.
//
// An incorrect board is reported as false, not as an error; errors only
// come from the collectives.
func Check(ctx context.Context, c comm.Comm, g *grid.Grid, p partition.Partition) (bool, error) {
	total, err := c.AllreduceSum(ctx, int64(g.LiveCount()))
	if err != nil {
		return false, fmt.Errorf("live-cell reduction: %w", err)
	}
	if total != ExpectedLive {
		return false, nil
	}

	ok, err := c.AllreduceAnd(ctx, LocalFootprintOK(g, p))
	if err != nil {
		return false, fmt.Errorf("footprint reduction: %w", err)
	}
	return ok, nil
}

// LocalFootprintOK reports whether every footprint cell this worker owns is
// alive.
func LocalFootprintOK(g *grid.Grid, p partition.Partition) bool {
	for _, c := range grid.Footprint(p.Size) {
		if !p.Owns(c.Row) {
			continue
		}
		if !g.Alive(p.Local(c.Row), c.Col) {
			return false
		}
	}
	return true
}
