package dispatch

import (
	"context"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/engine"
	"github.com/dreamware/hybridlife/internal/protocol"
)

// InProcess runs every request inside this process, with workers as
// goroutines. Zero fields fall back to the request's THREADS and WORKERS,
// then to the engine defaults.
type InProcess struct {
	Workers int
	Lanes   int
}

func (p InProcess) Run(ctx context.Context, req protocol.Request) ([]cluster.SizeResult, error) {
	f, err := engine.Lookup(req.Engine)
	if err != nil {
		return nil, err
	}
	cfg := engine.Config{MinPow: req.MinPow, MaxPow: req.MaxPow, Lanes: firstPositive(req.Threads, p.Lanes)}
	results, err := engine.RunInProcess(ctx, f, cfg, firstPositive(req.Workers, p.Workers, 1))
	if err != nil {
		return nil, err
	}
	out := make([]cluster.SizeResult, len(results))
	for i, r := range results {
		out[i] = r.Wire()
	}
	return out, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
