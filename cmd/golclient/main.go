// Command golclient load-tests a dispatcher speaking the line protocol.
//
// Usage:
//
//	golclient [-addr host:port] [mode [args]]
//
// Modes:
//
//	simples                        one client, one mpi request
//	performance [requests]         one client cycling through serial, openmp, mpi and spark (default 8)
//	stress [clients] [requests]    concurrent clients alternating openmp and mpi (default 3 x 4)
//
// With no mode it runs simples, performance 4 and stress 2 3 in turn. Each
// mode prints its request totals, latency and throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var logFatal = log.Fatalf

func main() {
	addr := flag.String("addr", getenv("DISPATCH_ADDR", "127.0.0.1:8080"), "dispatcher address")
	pause := flag.Duration("pause", 100*time.Millisecond, "delay between a client's requests")
	stagger := flag.Duration("stagger", 50*time.Millisecond, "delay between client starts in stress mode")
	flag.Parse()

	plans, err := parsePlans(flag.Args())
	if err != nil {
		logFatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{Addr: *addr, Pause: *pause, Stagger: *stagger, BasePow: 3, Spread: 3}
	fmt.Printf("dispatcher %s\n", opts.Addr)
	for _, p := range plans {
		rep := runPlan(ctx, opts, p)
		fmt.Println(rep)
		if ctx.Err() != nil {
			break
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
