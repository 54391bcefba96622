package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hybridlife/internal/protocol"
	"github.com/dreamware/hybridlife/internal/stats"
)

// plan is one load-test mode: Clients sessions of Requests requests each,
// engines taken in turn.
type plan struct {
	Name     string
	Engines  []string
	Clients  int
	Requests int
}

// options shape every request of a run.
type options struct {
	Addr    string
	Pause   time.Duration
	Stagger time.Duration
	// request i asks for POWMIN = BasePow + i%Spread and
	// POWMAX = POWMIN + 2 + i%Spread
	BasePow int
	Spread  int
}

func simplePlan() plan {
	return plan{Name: "simples", Clients: 1, Requests: 1, Engines: []string{"mpi"}}
}

func performancePlan(requests int) plan {
	return plan{Name: "performance", Clients: 1, Requests: requests,
		Engines: []string{"serial", "openmp", "mpi", "spark"}}
}

func stressPlan(clients, requests int) plan {
	return plan{Name: "stress", Clients: clients, Requests: requests, Engines: []string{"openmp", "mpi"}}
}

// parsePlans turns the command line into the plans to run.
func parsePlans(args []string) ([]plan, error) {
	if len(args) == 0 {
		return []plan{simplePlan(), performancePlan(4), stressPlan(2, 3)}, nil
	}
	nums := make([]int, 0, len(args)-1)
	for _, a := range args[1:] {
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%s: want a positive count, got %q", args[0], a)
		}
		nums = append(nums, n)
	}
	arg := func(i, def int) int {
		if i < len(nums) {
			return nums[i]
		}
		return def
	}

	switch args[0] {
	case "simples", "simple":
		return []plan{simplePlan()}, nil
	case "performance":
		return []plan{performancePlan(arg(0, 8))}, nil
	case "stress":
		return []plan{stressPlan(arg(0, 3), arg(1, 4))}, nil
	}
	return nil, fmt.Errorf("unknown mode %q (use simples, performance or stress)", args[0])
}

// report summarises one plan run.
type report struct {
	Plan    plan
	Stats   stats.Snapshot
	Elapsed time.Duration
}

func (r report) String() string {
	s := r.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "== %s: %d client(s) x %d request(s)\n", r.Plan.Name, r.Plan.Clients, r.Plan.Requests)
	fmt.Fprintf(&b, "requests: %d (ok %d, error %d)\n", s.TotalRequests, s.Succeeded, s.Failed)
	fmt.Fprintf(&b, "latency: min %.3fs, max %.3fs, mean %.3fs\n", s.MinLatency, s.MaxLatency, s.MeanLatency)
	throughput := 0.0
	if r.Elapsed > 0 {
		throughput = float64(s.TotalRequests) / r.Elapsed.Seconds()
	}
	fmt.Fprintf(&b, "throughput: %.2f req/s over %.3fs", throughput, r.Elapsed.Seconds())
	return b.String()
}

// runPlan runs every client of p concurrently and collects their counters.
func runPlan(ctx context.Context, opts options, p plan) report {
	counters := stats.New()
	start := time.Now()

	var g errgroup.Group
	for id := 1; id <= p.Clients; id++ {
		g.Go(func() error {
			runClient(ctx, opts, p, id, counters)
			return nil
		})
		if id < p.Clients && opts.Stagger > 0 {
			time.Sleep(opts.Stagger)
		}
	}
	_ = g.Wait()

	return report{Plan: p, Stats: counters.Snapshot(), Elapsed: time.Since(start)}
}

// runClient is one session: it sends its requests in order and then QUIT.
// A client that cannot connect counts all its requests as failed.
func runClient(ctx context.Context, opts options, p plan, id int, counters *stats.Counters) {
	s, err := dial(ctx, opts.Addr)
	if err != nil {
		log.Printf("client %d: %v", id, err)
		for i := 0; i < p.Requests; i++ {
			counters.Record(false, 0)
		}
		return
	}
	defer s.Close()
	counters.ClientConnected()
	defer counters.ClientDisconnected()

	spread := max(opts.Spread, 1)
	for i := 0; i < p.Requests; i++ {
		if ctx.Err() != nil {
			counters.Record(false, 0)
			continue
		}
		minPow := opts.BasePow + i%spread
		req := protocol.Request{
			Command: protocol.Run,
			Engine:  p.Engines[i%len(p.Engines)],
			MinPow:  minPow,
			MaxPow:  minPow + 2 + i%spread,
		}
		t0 := time.Now()
		err := s.Run(req)
		d := time.Since(t0)
		counters.Record(err == nil, d)
		if err != nil {
			log.Printf("client %d req %d (%s): %v", id, i+1, req, err)
		} else {
			log.Printf("client %d req %d (%s): %.3fs", id, i+1, req, d.Seconds())
		}
		if i+1 < p.Requests && opts.Pause > 0 {
			time.Sleep(opts.Pause)
		}
	}
	if err := s.Quit(); err != nil {
		log.Printf("client %d: quit: %v", id, err)
	}
}

// ErrRejected is returned for a STATUS:ERROR response.
var ErrRejected = errors.New("request rejected")

// session is one connection to the dispatcher.
type session struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(ctx context.Context, addr string) (*session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &session{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Run sends req and reads its response. Only STATUS:SUCCESS is a success.
func (s *session) Run(req protocol.Request) error {
	lines, err := s.roundTrip(req.String())
	if err != nil {
		return err
	}
	if len(lines) == 0 || lines[0] != "STATUS:SUCCESS" {
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(lines, " | "))
	}
	return nil
}

// Quit ends the session politely.
func (s *session) Quit() error {
	lines, err := s.roundTrip("QUIT")
	if err != nil {
		return err
	}
	if len(lines) != 1 || lines[0] != "BYE" {
		return fmt.Errorf("unexpected answer to QUIT: %v", lines)
	}
	return nil
}

func (s *session) roundTrip(line string) ([]string, error) {
	if _, err := fmt.Fprintf(s.conn, "%s\n", line); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	lines, err := protocol.ReadResponse(s.r)
	if err != nil {
		return lines, fmt.Errorf("receive: %w", err)
	}
	return lines, nil
}

func (s *session) Close() error { return s.conn.Close() }
