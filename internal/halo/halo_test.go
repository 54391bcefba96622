package halo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/grid"
	"github.com/dreamware/hybridlife/internal/partition"
)

// slabs builds one slab per worker with every owned cell of global row r
// set to r, so a ghost row's contents name the row it was copied from.
func slabs(t *testing.T, n, w int) ([]partition.Partition, []*grid.Grid) {
	t.Helper()
	parts := partition.All(n, w)
	grids := make([]*grid.Grid, w)
	for i, p := range parts {
		g, err := grid.New(p)
		require.NoError(t, err)
		for li := 1; li <= g.Rows(); li++ {
			for j := 1; j <= n; j++ {
				g.Set(li, j, byte(p.Global(li)))
			}
		}
		grids[i] = g
	}
	return parts, grids
}

func exchangeAll(t *testing.T, parts []partition.Partition, grids []*grid.Grid, tag int64) {
	t.Helper()
	group := comm.NewLocalGroup(len(parts))
	eg, ctx := errgroup.WithContext(context.Background())
	for i := range parts {
		c := group.Member(i)
		eg.Go(func() error { return Exchange(ctx, c, grids[i], parts[i], tag) })
	}
	require.NoError(t, eg.Wait())
}

func TestExchangeFillsGhostRows(t *testing.T) {
	for _, w := range []int{2, 3, 4, 8} {
		parts, grids := slabs(t, 8, w)
		exchangeAll(t, parts, grids, 1)

		for i, p := range parts {
			g := grids[i]
			top, bottom := g.Row(0), g.Row(g.Rows()+1)
			for j := 1; j <= 8; j++ {
				if p.HasPredecessor() {
					assert.Equal(t, byte(p.StartRow-1), top[j], "w=%d worker=%d", w, i)
				}
				if p.HasSuccessor() {
					assert.Equal(t, byte(p.EndRow+1), bottom[j], "w=%d worker=%d", w, i)
				}
			}
			// sentinel columns are copied as zeros
			assert.Zero(t, top[0])
			assert.Zero(t, top[9])
		}
	}
}

// TestExtremeGhostRowsStayDead checks there is no wraparound between the
// first and last worker.
func TestExtremeGhostRowsStayDead(t *testing.T) {
	parts, grids := slabs(t, 9, 3)
	for tag := int64(0); tag < 3; tag++ {
		exchangeAll(t, parts, grids, tag)
	}
	assert.Equal(t, make([]byte, 11), grids[0].Row(0))
	last := grids[2]
	assert.Equal(t, make([]byte, 11), last.Row(last.Rows()+1))
}

func TestExchangeWithEmptyWorkers(t *testing.T) {
	parts, grids := slabs(t, 3, 5)
	exchangeAll(t, parts, grids, 1)

	// worker 2 owns the last row; its successor is empty so nothing arrives
	assert.Equal(t, make([]byte, 5), grids[2].Row(2))
	assert.Equal(t, byte(2), grids[2].Row(0)[1])
	for _, g := range grids[3:] {
		assert.Zero(t, g.Rows())
		assert.Equal(t, make([]byte, 5), g.Row(0))
		assert.Equal(t, make([]byte, 5), g.Row(1))
	}
}

func TestExchangeSoloIsNoop(t *testing.T) {
	p := partition.New(4, 0, 1)
	g, err := grid.New(p)
	require.NoError(t, err)
	require.NoError(t, Exchange(context.Background(), comm.Solo{}, g, p, 0))
	assert.Equal(t, make([]byte, 6), g.Row(0))
}
