package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dreamware/hybridlife/internal/dispatch"
)

var logFatal = log.Fatalf

func main() {
	addr := getenv("COORDINATOR_ADDR", ":8080")
	size := getenvInt("GROUP_SIZE", 1)
	srv := newServer(size)
	srv.lanes = getenvInt("GOL_LANES", 0)
	srv.jobTimeout = getenvDuration("JOB_TIMEOUT", 30*time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.health.SetOnUnhealthy(srv.workerLost)
	go srv.health.Start(ctx, srv.group.Workers)
	go srv.counters.LogEvery(ctx, 10*time.Second)

	if daddr := os.Getenv("DISPATCH_ADDR"); daddr != "" {
		go func() {
			if err := dispatch.New(srv, srv.counters).ListenAndServe(ctx, daddr); err != nil {
				logFatal("dispatch: %v", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s (group of %d)", addr, size)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	<-ctx.Done()
	srv.health.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("%s=%q: %v", k, v, err)
		return def
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logFatal("%s=%q: %v", k, v, err)
		return def
	}
	return d
}
