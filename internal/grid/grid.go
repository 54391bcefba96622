// Package grid holds one worker's slab of the cellular-automaton board.
//
// A slab for a partition owning L rows of an N×N board is an (L+2)×(N+2)
// byte buffer:
//
//	row 0        ghost row (copy of the predecessor's last row, or dead)
//	rows 1..L    owned rows
//	row L+1      ghost row (copy of the successor's first row, or dead)
//
// Columns 0 and N+1 are sentinels that stay zero for the whole run, so the
// stencil never needs a bounds check. Cells hold 0 (dead) or 1 (alive), which
// lets a neighbour count be a plain sum.
package grid

import (
	"errors"
	"fmt"

	"github.com/dreamware/hybridlife/internal/partition"
)

// MaxSide bounds the board side a slab may be allocated for.
const MaxSide = 1 << 20

// ErrAllocation is returned when a slab cannot be allocated for a partition.
var ErrAllocation = errors.New("grid allocation failed")

// Cell is a global board coordinate, 1-based.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Grid is a worker-owned slab. It is not safe for concurrent writers to the
// same row; the stencil gives every lane a disjoint row range.
type Grid struct {
	cells  []byte
	size   int
	rows   int
	stride int
}

// New allocates a zeroed slab for the partition.
func New(p partition.Partition) (*Grid, error) {
	if p.Size <= 0 || p.Size > MaxSide || p.LocalRows < 0 {
		return nil, fmt.Errorf("%w: side %d, %d local rows", ErrAllocation, p.Size, p.LocalRows)
	}
	stride := p.Size + 2
	total := (p.LocalRows + 2) * stride
	if total/stride != p.LocalRows+2 {
		return nil, fmt.Errorf("%w: %d×%d overflows", ErrAllocation, p.LocalRows+2, stride)
	}
	return &Grid{
		cells:  make([]byte, total),
		size:   p.Size,
		rows:   p.LocalRows,
		stride: stride,
	}, nil
}

// Size returns the board side N.
func (g *Grid) Size() int { return g.size }

// Rows returns the number of owned rows.
func (g *Grid) Rows() int { return g.rows }

// Stride returns the row length including the two sentinel columns.
func (g *Grid) Stride() int { return g.stride }

// Row returns local row i (0..Rows+1) including sentinels. The slice aliases
// the slab.
func (g *Grid) Row(i int) []byte {
	off := i * g.stride
	return g.cells[off : off+g.stride]
}

// SetRow overwrites local row i with src, which must be Stride bytes long.
func (g *Grid) SetRow(i int, src []byte) error {
	if len(src) != g.stride {
		return fmt.Errorf("row length %d, want %d", len(src), g.stride)
	}
	copy(g.Row(i), src)
	return nil
}

// ClearRow sets every cell of local row i to dead.
func (g *Grid) ClearRow(i int) {
	clear(g.Row(i))
}

// At returns the cell at local row i, column j.
func (g *Grid) At(i, j int) byte {
	return g.cells[i*g.stride+j]
}

// Set writes the cell at local row i, column j.
func (g *Grid) Set(i, j int, v byte) {
	g.cells[i*g.stride+j] = v
}

// Alive reports whether the cell at local row i, column j is alive.
func (g *Grid) Alive(i, j int) bool {
	return g.At(i, j) != 0
}

// Reset kills every cell, ghosts and sentinels included.
func (g *Grid) Reset() {
	clear(g.cells)
}

// LiveCount counts live cells in the owned rows.
func (g *Grid) LiveCount() int {
	n := 0
	for i := 1; i <= g.rows; i++ {
		row := g.Row(i)
		for j := 1; j <= g.size; j++ {
			n += int(row[j])
		}
	}
	return n
}

// LiveCells lists the live owned cells in global coordinates, row-major.
func (g *Grid) LiveCells(p partition.Partition) []Cell {
	var out []Cell
	for i := 1; i <= g.rows; i++ {
		row := g.Row(i)
		for j := 1; j <= g.size; j++ {
			if row[j] != 0 {
				out = append(out, Cell{Row: p.Global(i), Col: j})
			}
		}
	}
	return out
}
