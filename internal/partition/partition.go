// Package partition assigns contiguous bands of grid rows to the workers of a
// fixed-size group.
//
// Rows are numbered 1..N globally. Row 0 and row N+1 are outside the grid and
// always dead. The first N mod W workers receive one extra row so that the
// bands differ in height by at most one:
//
//	N=8, W=3:   worker 0 → rows 1-3
//	            worker 1 → rows 4-6
//	            worker 2 → rows 7-8
//
// A worker whose index is at least N owns no rows at all. That is a valid
// partition: the worker still takes part in every collective, it just has
// nothing to exchange or update.
package partition

import "fmt"

// Partition describes the global row span owned by one worker.
// It is immutable once computed for a grid size.
type Partition struct {
	WorkerIndex int `json:"worker_index"`
	WorkerCount int `json:"worker_count"`
	StartRow    int `json:"start_row"` // first owned global row (1-based)
	EndRow      int `json:"end_row"`   // last owned global row, StartRow-1 when empty
	LocalRows   int `json:"local_rows"`
	Size        int `json:"size"` // grid side N
}

// New computes the rows owned by workerIndex out of workerCount for an N×N grid.
// It panics on a worker index outside [0, workerCount) or a non-positive
// count, since those are programming errors rather than degenerate inputs.
func New(n, workerIndex, workerCount int) Partition {
	if workerCount <= 0 || workerIndex < 0 || workerIndex >= workerCount {
		panic(fmt.Sprintf("partition: worker %d out of range for group of %d", workerIndex, workerCount))
	}

	base := n / workerCount
	extra := n % workerCount

	p := Partition{
		WorkerIndex: workerIndex,
		WorkerCount: workerCount,
		Size:        n,
	}
	if workerIndex < extra {
		p.LocalRows = base + 1
		p.StartRow = workerIndex*(base+1) + 1
	} else {
		p.LocalRows = base
		p.StartRow = workerIndex*base + extra + 1
	}
	p.EndRow = p.StartRow + p.LocalRows - 1
	return p
}

// All returns the partitions of every worker in index order.
func All(n, workerCount int) []Partition {
	parts := make([]Partition, workerCount)
	for i := range parts {
		parts[i] = New(n, i, workerCount)
	}
	return parts
}

// Empty reports whether the worker owns no rows.
func (p Partition) Empty() bool {
	return p.LocalRows == 0
}

// Owns reports whether global row r belongs to this worker.
func (p Partition) Owns(r int) bool {
	return r >= p.StartRow && r <= p.EndRow
}

// Local translates global row r into a local row index (1..LocalRows).
// The caller must check Owns first.
func (p Partition) Local(r int) int {
	return r - p.StartRow + 1
}

// Global translates local row i back into its global row number.
func (p Partition) Global(i int) int {
	return p.StartRow + i - 1
}

// HasPredecessor reports whether this worker shares its top boundary with
// the worker at WorkerIndex-1.
func (p Partition) HasPredecessor() bool {
	return !p.Empty() && p.WorkerIndex > 0
}

// HasSuccessor reports whether this worker shares its bottom boundary with
// the worker at WorkerIndex+1. Empty workers only ever sit at the tail of the
// group (index >= N), so a non-empty successor exists exactly when the next
// index is below both the group size and N.
func (p Partition) HasSuccessor() bool {
	next := p.WorkerIndex + 1
	return !p.Empty() && next < p.WorkerCount && next < p.Size
}

func (p Partition) String() string {
	return fmt.Sprintf("worker %d/%d rows [%d,%d] (%d rows) of %d",
		p.WorkerIndex, p.WorkerCount, p.StartRow, p.EndRow, p.LocalRows, p.Size)
}
