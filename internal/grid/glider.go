package grid

import "github.com/dreamware/hybridlife/internal/partition"

// Glider is the seed pattern written into global rows 1-3.
//
//	. X .
//	. . X
//	X X X
var Glider = []Cell{
	{Row: 1, Col: 2},
	{Row: 2, Col: 3},
	{Row: 3, Col: 1},
	{Row: 3, Col: 2},
	{Row: 3, Col: 3},
}

// Footprint returns where the glider sits after travelling to the
// bottom-right corner of an n×n board.
func Footprint(n int) []Cell {
	return []Cell{
		{Row: n - 2, Col: n - 1},
		{Row: n - 1, Col: n},
		{Row: n, Col: n - 2},
		{Row: n, Col: n - 1},
		{Row: n, Col: n},
	}
}

// Seed writes the cells of pattern that fall inside the partition.
func (g *Grid) Seed(p partition.Partition, pattern []Cell) {
	for _, c := range pattern {
		if !p.Owns(c.Row) || c.Col < 1 || c.Col > g.size {
			continue
		}
		g.Set(p.Local(c.Row), c.Col, 1)
	}
}
