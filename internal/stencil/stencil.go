// Package stencil advances a slab by one generation.
//
// Every owned cell's next state depends on its eight neighbours in the input
// slab, ghost rows and sentinel columns included:
//
//	alive, fewer than 2 live neighbours  → dead
//	alive, more than 3 live neighbours   → dead
//	dead, exactly 3 live neighbours      → alive
//	otherwise                            → unchanged
//
// The input slab is read-only for the whole pass and every output row is
// written by exactly one lane, so lanes need no locking.
package stencil

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hybridlife/internal/grid"
	"github.com/dreamware/hybridlife/internal/partition"
)

// Policy computes the owned rows of out from in.
type Policy interface {
	Step(in, out *grid.Grid)
	Lanes() int
}

// New returns the local-parallelism policy for the given lane count. One lane
// (or fewer) is the sequential policy; anything larger is a lane pool.
// Zero means one lane per CPU.
func New(lanes int) Policy {
	if lanes == 0 {
		lanes = runtime.NumCPU()
	}
	if lanes <= 1 {
		return Sequential{}
	}
	return LanePool{N: lanes}
}

// Sequential updates all rows on the calling goroutine.
type Sequential struct{}

func (Sequential) Step(in, out *grid.Grid) {
	updateRows(in, out, 1, in.Rows())
}

func (Sequential) Lanes() int { return 1 }

func (Sequential) String() string { return "sequential" }

// LanePool splits the owned rows into N contiguous bands with the same
// static schedule the group uses for workers, and updates the bands
// concurrently. Step returns once every lane is done.
type LanePool struct {
	N int
}

func (lp LanePool) Step(in, out *grid.Grid) {
	rows := in.Rows()
	if rows == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(lp.N)
	for lane := 0; lane < lp.N; lane++ {
		band := partition.New(rows, lane, lp.N)
		if band.Empty() {
			continue
		}
		g.Go(func() error {
			updateRows(in, out, band.StartRow, band.EndRow)
			return nil
		})
	}
	_ = g.Wait()
}

func (lp LanePool) Lanes() int { return lp.N }

func (lp LanePool) String() string { return fmt.Sprintf("lane-pool(%d)", lp.N) }

// updateRows applies the rule to local rows lo..hi inclusive.
func updateRows(in, out *grid.Grid, lo, hi int) {
	n := in.Size()
	for i := lo; i <= hi; i++ {
		above, row, below := in.Row(i-1), in.Row(i), in.Row(i+1)
		dst := out.Row(i)
		for j := 1; j <= n; j++ {
			live := above[j-1] + above[j] + above[j+1] +
				row[j-1] + row[j+1] +
				below[j-1] + below[j] + below[j+1]
			dst[j] = next(row[j], live)
		}
	}
}

func next(cell, live byte) byte {
	switch {
	case cell != 0 && (live < 2 || live > 3):
		return 0
	case cell == 0 && live == 3:
		return 1
	default:
		return cell
	}
}
