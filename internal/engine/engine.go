// Package engine drives a batch run: for every grid size in a range it
// allocates the slabs, seeds the glider, alternates halo exchange and
// stencil update for a fixed number of steps, validates the result and
// records phase timings.
//
// The same code serves every deployment. What varies is the comm.Comm the
// engine is given (Solo for a single owner, or a row-partitioned group) and
// the stencil policy (sequential or a lane pool).
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/grid"
	"github.com/dreamware/hybridlife/internal/halo"
	"github.com/dreamware/hybridlife/internal/partition"
	"github.com/dreamware/hybridlife/internal/stencil"
	"github.com/dreamware/hybridlife/internal/validate"
)

// MaxPow is the largest size exponent a run accepts.
const MaxPow = 20

// ErrConfig is returned for an unusable Config.
var ErrConfig = errors.New("invalid engine config")

// Config describes a batch run.
type Config struct {
	// Steps returns how many iterations to run for side n. Each iteration
	// is two generations (current→next, next→current). Nil means
	// DefaultSteps.
	Steps func(n int) int
	// Seed is the initial pattern. Nil means grid.Glider.
	Seed   []grid.Cell
	MinPow int
	MaxPow int
	// Lanes is the compute-lane count per worker; 0 means one per CPU.
	Lanes int
}

// DefaultSteps is 2·(n−3) iterations, i.e. 4·(n−3) generations: the glider
// moves one cell diagonally every four generations, so this carries it from
// rows 1-3 to the bottom-right corner.
func DefaultSteps(n int) int {
	if n < 3 {
		return 0
	}
	return 2 * (n - 3)
}

// Validate checks the exponent range and lane count.
func (c Config) Validate() error {
	switch {
	case c.MinPow < 1 || c.MaxPow > MaxPow:
		return fmt.Errorf("%w: exponents must lie in [1, %d], got [%d, %d]", ErrConfig, MaxPow, c.MinPow, c.MaxPow)
	case c.MaxPow < c.MinPow:
		return fmt.Errorf("%w: max exponent %d below min %d", ErrConfig, c.MaxPow, c.MinPow)
	case c.Lanes < 0:
		return fmt.Errorf("%w: negative lane count %d", ErrConfig, c.Lanes)
	}
	return nil
}

// Sizes lists the grid sides of the run, smallest first.
func (c Config) Sizes() []int {
	var sizes []int
	for p := c.MinPow; p <= c.MaxPow; p++ {
		sizes = append(sizes, 1<<p)
	}
	return sizes
}

func (c Config) steps(n int) int {
	if c.Steps != nil {
		return c.Steps(n)
	}
	return DefaultSteps(n)
}

func (c Config) seed() []grid.Cell {
	if c.Seed != nil {
		return c.Seed
	}
	return grid.Glider
}

// Result is one grid size's outcome on one worker. Correct is identical on
// every worker of the group; the timings are local.
type Result struct {
	Size       int
	Workers    int
	Lanes      int
	Correct    bool
	Setup      time.Duration
	Compute    time.Duration
	Validation time.Duration
	Total      time.Duration
}

// Engine runs a Config on one rank. It is not safe for concurrent use.
type Engine struct {
	comm   comm.Comm
	policy stencil.Policy
	cfg    Config
	tag    int64
}

// New returns an engine for rank c.Rank() of its group.
func New(c comm.Comm, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		comm:   c,
		policy: stencil.New(cfg.Lanes),
		cfg:    cfg,
	}, nil
}

// Policy returns the local-parallelism policy in use.
func (e *Engine) Policy() stencil.Policy { return e.policy }

// Run executes every size in the configured range. It stops at the first
// error; an incorrect board is not an error.
func (e *Engine) Run(ctx context.Context) ([]Result, error) {
	var results []Result
	for _, n := range e.cfg.Sizes() {
		r, err := e.RunSize(ctx, n)
		if err != nil {
			return results, fmt.Errorf("size %d: %w", n, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// RunSize runs Init → (exchange, update)×steps → validate for side n.
func (e *Engine) RunSize(ctx context.Context, n int) (Result, error) {
	res := Result{Size: n, Workers: e.comm.Size(), Lanes: e.policy.Lanes()}

	t0 := time.Now()
	s, err := e.setup(n)
	if err != nil {
		return res, err
	}
	t1 := time.Now()

	if err := e.evolve(ctx, s, e.cfg.steps(n)); err != nil {
		return res, err
	}
	t2 := time.Now()

	res.Correct, err = validate.Check(ctx, e.comm, s.cur, s.part)
	if err != nil {
		return res, err
	}
	t3 := time.Now()

	res.Setup = t1.Sub(t0)
	res.Compute = t2.Sub(t1)
	res.Validation = t3.Sub(t2)
	res.Total = t3.Sub(t0)
	return res, nil
}

// Simulate runs side n without validating and returns this rank's final
// slab and partition.
func (e *Engine) Simulate(ctx context.Context, n int) (*grid.Grid, partition.Partition, error) {
	s, err := e.setup(n)
	if err != nil {
		return nil, partition.Partition{}, err
	}
	if err := e.evolve(ctx, s, e.cfg.steps(n)); err != nil {
		return nil, s.part, err
	}
	return s.cur, s.part, nil
}

// slabs is the per-size state: the partition and the current/next buffers.
type slabs struct {
	cur, next *grid.Grid
	part      partition.Partition
}

func (e *Engine) setup(n int) (*slabs, error) {
	part := partition.New(n, e.comm.Rank(), e.comm.Size())
	cur, err := grid.New(part)
	if err != nil {
		return nil, err
	}
	next, err := grid.New(part)
	if err != nil {
		return nil, err
	}
	cur.Seed(part, e.cfg.seed())
	return &slabs{cur: cur, next: next, part: part}, nil
}

func (e *Engine) evolve(ctx context.Context, s *slabs, steps int) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for half := 0; half < 2; half++ {
			e.tag++
			if err := halo.Exchange(ctx, e.comm, s.cur, s.part, e.tag); err != nil {
				return err
			}
			e.policy.Step(s.cur, s.next)
			s.cur, s.next = s.next, s.cur
		}
	}
	return nil
}
