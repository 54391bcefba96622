package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dreamware/hybridlife/internal/comm"
)

// ErrUnknownEngine is returned by Lookup for a name outside the catalogue.
var ErrUnknownEngine = errors.New("unknown engine")

// Distribution says how the board is shared between workers.
type Distribution int

const (
	// SingleOwner keeps the whole board on one worker.
	SingleOwner Distribution = iota
	// RowPartitioned splits the board into contiguous row bands.
	RowPartitioned
)

func (d Distribution) String() string {
	if d == RowPartitioned {
		return "row-partitioned"
	}
	return "single-owner"
}

// Flavor is a named (distribution, local parallelism) pair.
type Flavor struct {
	Name         string
	Distribution Distribution
	Threaded     bool
}

var catalogue = map[string]Flavor{
	"serial":     {Name: "serial", Distribution: SingleOwner},
	"openmp":     {Name: "openmp", Distribution: SingleOwner, Threaded: true},
	"threads":    {Name: "threads", Distribution: SingleOwner, Threaded: true},
	"mpi":        {Name: "mpi", Distribution: RowPartitioned},
	"hibrido":    {Name: "hibrido", Distribution: RowPartitioned, Threaded: true},
	"hybrid":     {Name: "hybrid", Distribution: RowPartitioned, Threaded: true},
	"openmp_mpi": {Name: "openmp_mpi", Distribution: RowPartitioned, Threaded: true},
	// spark spreads the board over every core of every node, which is the
	// hybrid shape.
	"spark": {Name: "spark", Distribution: RowPartitioned, Threaded: true},
}

// Lookup resolves an engine name, ignoring case and surrounding space.
func Lookup(name string) (Flavor, error) {
	f, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Flavor{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return f, nil
}

// Names lists the catalogue, sorted.
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for n := range catalogue {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lanes returns the lane count the flavor runs with when lanes were
// requested. Unthreaded flavors always run one lane.
func (f Flavor) Lanes(requested int) int {
	if !f.Threaded {
		return 1
	}
	return requested
}

// Workers returns the group size the flavor runs with when workers were
// requested. Single-owner flavors always run one worker.
func (f Flavor) Workers(requested int) int {
	if f.Distribution == SingleOwner || requested < 1 {
		return 1
	}
	return requested
}

func (f Flavor) String() string {
	return fmt.Sprintf("%s (%s, threaded=%t)", f.Name, f.Distribution, f.Threaded)
}

// RunInProcess runs cfg under flavor f with every worker inside this
// process.
func RunInProcess(ctx context.Context, f Flavor, cfg Config, workers int) ([]Result, error) {
	cfg.Lanes = f.Lanes(cfg.Lanes)
	workers = f.Workers(workers)
	if workers == 1 {
		e, err := New(comm.Solo{}, cfg)
		if err != nil {
			return nil, err
		}
		return e.Run(ctx)
	}
	return RunLocal(ctx, cfg, workers)
}
