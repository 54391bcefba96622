// Package stats keeps the dispatcher's request counters.
package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Counters tracks clients and requests served by a dispatcher. It is safe
// for concurrent use; share one instance by pointer.
type Counters struct {
	started       time.Time
	mu            sync.Mutex
	processing    time.Duration
	okTime        time.Duration
	fastest       time.Duration
	slowest       time.Duration
	total         uint64
	succeeded     uint64
	failed        uint64
	activeClients int
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	TotalRequests  uint64  `json:"total_requests"`
	Succeeded      uint64  `json:"succeeded"`
	Failed         uint64  `json:"failed"`
	ActiveClients  int     `json:"active_clients"`
	ProcessingTime float64 `json:"processing_seconds"`
	// Throughput is completed requests per second of processing time.
	Throughput float64 `json:"throughput"`
	Uptime     float64 `json:"uptime_seconds"`
	// Latencies of successful requests, in seconds.
	MinLatency  float64 `json:"min_latency_seconds"`
	MaxLatency  float64 `json:"max_latency_seconds"`
	MeanLatency float64 `json:"mean_latency_seconds"`
}

// New returns zeroed counters whose uptime starts now.
func New() *Counters {
	return &Counters{started: time.Now()}
}

// ClientConnected records a new client session.
func (c *Counters) ClientConnected() {
	c.mu.Lock()
	c.activeClients++
	c.mu.Unlock()
}

// ClientDisconnected records the end of a client session.
func (c *Counters) ClientDisconnected() {
	c.mu.Lock()
	if c.activeClients > 0 {
		c.activeClients--
	}
	c.mu.Unlock()
}

// Record counts one processed request and the time spent on it.
func (c *Counters) Record(ok bool, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if ok {
		if c.succeeded == 0 || d < c.fastest {
			c.fastest = d
		}
		c.slowest = max(c.slowest, d)
		c.okTime += d
		c.succeeded++
	} else {
		c.failed++
	}
	c.processing += d
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests:  c.total,
		Succeeded:      c.succeeded,
		Failed:         c.failed,
		ActiveClients:  c.activeClients,
		ProcessingTime: c.processing.Seconds(),
		Uptime:         time.Since(c.started).Seconds(),
		MinLatency:     c.fastest.Seconds(),
		MaxLatency:     c.slowest.Seconds(),
	}
	if s.ProcessingTime > 0 {
		s.Throughput = float64(s.TotalRequests) / s.ProcessingTime
	}
	if c.succeeded > 0 {
		s.MeanLatency = c.okTime.Seconds() / float64(c.succeeded)
	}
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("active clients: %d | requests: %d (ok %d, error %d) | processing %.3fs | throughput %.2f req/s",
		s.ActiveClients, s.TotalRequests, s.Succeeded, s.Failed, s.ProcessingTime, s.Throughput)
}

// LogEvery logs a snapshot each interval until ctx is done.
func (c *Counters) LogEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("stats: %s", c.Snapshot())
		}
	}
}
