// Package main implements the hybridlife worker, one rank of a
// row-partitioned worker group.
//
// The worker registers with the coordinator, which assigns its rank. When a
// job arrives on /control it runs the engine over its band of rows,
// exchanging boundary rows with its neighbours through their /halo
// endpoints and meeting the rest of the group at the coordinator for
// reductions. Each grid size's outcome is logged and the full list is
// posted back to the coordinator.
//
//	┌─────────────────────────────────────────┐
//	│                Worker                   │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health   - liveness check           │
//	│    /control  - start a job (JobControl) │
//	│    /halo     - inbound boundary rows    │
//	│    /abort    - stop a job               │
//	│    /info     - jobs seen by this worker │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: unique worker identifier (required)
//   - COORDINATOR_ADDR: coordinator URL (required)
//   - NODE_LISTEN: listen address (default ":8081")
//   - NODE_ADDR: address peers and coordinator use (default "http://127.0.0.1:8081")
//
// Example:
//
//	NODE_ID=worker-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./worker
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

func main() {
	nodeID := mustGetenv("NODE_ID")
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")

	wk := NewWorker(nodeID, coord)

	s := &http.Server{
		Addr:              listen,
		Handler:           wk.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("node[%s] listening on %s (public %s)", nodeID, listen, public)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resp, ok := register(ctx, coord, nodeID, public); ok {
		log.Printf("node[%s] holds rank %d of %d", nodeID, resp.Rank, resp.GroupSize)
	}

	<-ctx.Done()
	wk.AbortAll("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("node stopped")
}

// register joins the group, retrying while the coordinator starts up.
// Persistent failure is fatal.
func register(ctx context.Context, coord, id, addr string) (cluster.RegisterResponse, bool) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var resp cluster.RegisterResponse
	var lastErr error

	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, &resp)
		if lastErr == nil {
			log.Printf("registered with coordinator @ %s", coord)
			return resp, true
		}
		log.Printf("register retry %d: %v", i+1, lastErr)
		time.Sleep(400 * time.Millisecond)
	}

	logFatal("register failed: %v", lastErr)
	return resp, false
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
