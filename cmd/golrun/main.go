// Command golrun runs one batch of glider simulations without a
// coordinator and prints a verdict and timing line per grid size.
//
// Parameters come from the defaults, an optional -config YAML file, the
// GOL_* environment variables and finally the flags below, each layer
// overriding the last. The transport picks how the worker group is formed:
//
//	solo   one worker, no communication
//	local  -workers goroutines in this process
//	mpi    one process per rank, started by gompirun
//	nats   one process per rank, exchanging rows over a NATS server
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/config"
	"github.com/dreamware/hybridlife/internal/engine"
)

var logFatal = log.Fatalf

// rankOptions place this process in a NATS group.
type rankOptions struct {
	job  string
	rank int
	size int
}

func main() {
	var (
		path      = flag.String("config", "", "YAML file with run parameters")
		engName   = flag.String("engine", "", "engine name ("+fmt.Sprint(engine.Names())+")")
		transport = flag.String("transport", "", "solo, local, mpi or nats")
		natsURL   = flag.String("nats", "", "NATS server URL")
		minPow    = flag.Int("min", 0, "smallest grid exponent")
		maxPow    = flag.Int("max", 0, "largest grid exponent")
		workers   = flag.Int("workers", 0, "workers for the local transport")
		lanes     = flag.Int("lanes", 0, "update lanes per worker")
		ro        rankOptions
	)
	flag.StringVar(&ro.job, "job", "golrun", "NATS subject namespace shared by the group")
	flag.IntVar(&ro.rank, "rank", 0, "this process's rank (nats)")
	flag.IntVar(&ro.size, "size", 1, "number of ranks (nats)")
	flag.Parse()

	job, err := config.Load(*path)
	if err != nil {
		logFatal("config: %v", err)
	}
	overrideString(&job.Engine, *engName)
	overrideString(&job.Transport, *transport)
	overrideString(&job.NATSURL, *natsURL)
	overrideInt(&job.MinPow, *minPow)
	overrideInt(&job.MaxPow, *maxPow)
	overrideInt(&job.Workers, *workers)
	overrideInt(&job.Lanes, *lanes)
	if err := job.Validate(); err != nil {
		logFatal("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, job, ro, os.Stdout); err != nil {
		logFatal("golrun: %v", err)
	}
}

func overrideString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// run executes job on the configured transport. Only rank 0 writes to out.
func run(ctx context.Context, job config.Job, ro rankOptions, out io.Writer) error {
	flavor := job.Flavor()
	cfg := job.EngineConfig()

	var (
		results []engine.Result
		rank    int
		err     error
	)
	switch job.Transport {
	case config.TransportSolo:
		results, err = runOn(ctx, comm.Solo{}, cfg)
	case config.TransportLocal:
		results, err = engine.RunInProcess(ctx, flavor, cfg, job.Workers)
	case config.TransportMPI:
		if flavor.Distribution == engine.SingleOwner {
			return fmt.Errorf("engine %s runs on one worker; use the solo or local transport", flavor.Name)
		}
		c, ierr := comm.InitMPI()
		if ierr != nil {
			return ierr
		}
		defer c.Close()
		rank = c.Rank()
		results, err = runOn(ctx, c, cfg)
	case config.TransportNATS:
		if flavor.Distribution == engine.SingleOwner && ro.size > 1 {
			return fmt.Errorf("engine %s runs on one worker; use the solo or local transport", flavor.Name)
		}
		c, derr := comm.DialNATS(job.NATSURL, ro.job, ro.rank, ro.size)
		if derr != nil {
			return derr
		}
		defer c.Close()
		rank = c.Rank()
		results, err = runOn(ctx, c, cfg)
	default:
		return fmt.Errorf("unknown transport %q", job.Transport)
	}
	if err != nil {
		return err
	}

	if rank == 0 {
		workers, lanes := 1, cfg.Lanes
		if len(results) > 0 {
			workers, lanes = results[0].Workers, results[0].Lanes
		}
		fmt.Fprintf(out, "# engine=%s transport=%s workers=%d lanes=%d\n",
			flavor.Name, job.Transport, workers, lanes)
		for _, r := range results {
			fmt.Fprintln(out, r.Report())
		}
	}
	return nil
}

func runOn(ctx context.Context, c comm.Comm, cfg engine.Config) ([]engine.Result, error) {
	e, err := engine.New(c, cfg)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx)
}
