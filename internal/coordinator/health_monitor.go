package coordinator

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
)

// Status is a worker's health as last observed.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// WorkerHealth is the health record of one worker.
type WorkerHealth struct {
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy"`
	WorkerID         string    `json:"worker_id"`
	Status           Status    `json:"status"`
	Rank             int       `json:"rank"`
	ConsecutiveFails int       `json:"consecutive_fails"`
}

// HealthMonitor polls every worker's /health endpoint and reports workers
// that stop answering. A group job cannot survive losing a rank, so the
// coordinator uses the unhealthy callback to abort whatever job is running.
//
// Thread-safe: all methods may be called concurrently.
type HealthMonitor struct {
	workers     map[string]*WorkerHealth
	httpClient  *http.Client
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(worker cluster.NodeInfo)
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor returns a monitor that checks every interval and marks
// a worker unhealthy after 3 consecutive failed checks.
//
// Example:
//
//	monitor := NewHealthMonitor(2 * time.Second)
//	monitor.SetOnUnhealthy(func(w cluster.NodeInfo) { jobs.AbortRunning("worker lost") })
//	go monitor.Start(ctx, group.Workers)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		workers:     make(map[string]*WorkerHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked, on its own goroutine, when a
// worker goes from any state to unhealthy.
func (h *HealthMonitor) SetOnUnhealthy(callback func(worker cluster.NodeInfo)) {
	h.mu.Lock()
	h.onUnhealthy = callback
	h.mu.Unlock()
}

// SetCheckFunction replaces the HTTP check, mainly for tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.mu.Lock()
	h.checkFunc = checkFunc
	h.mu.Unlock()
}

// Start checks the workers returned by provider immediately and then every
// interval. It blocks until ctx is done or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, provider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("health monitor started with interval %v", h.interval)
	h.checkAll(ctx, provider())

	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, provider())
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop ends a running Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(ctx context.Context, workers []cluster.NodeInfo) {
	current := make(map[string]bool, len(workers))
	for _, w := range workers {
		current[w.ID] = true
		h.check(ctx, w)
	}

	h.mu.Lock()
	for id := range h.workers {
		if !current[id] {
			delete(h.workers, id)
		}
	}
	h.mu.Unlock()
}

func (h *HealthMonitor) check(ctx context.Context, w cluster.NodeInfo) {
	h.mu.Lock()
	rec, ok := h.workers[w.ID]
	if !ok {
		now := time.Now()
		rec = &WorkerHealth{WorkerID: w.ID, Rank: w.Rank, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.workers[w.ID] = rec
	}
	ping := h.checkFunc
	h.mu.Unlock()

	if ping == nil {
		ping = h.ping
	}
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := ping(cctx, w.Addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	rec.LastCheck = time.Now()
	rec.Rank = w.Rank
	if err == nil {
		if rec.Status == StatusUnhealthy {
			log.Printf("health: worker %s (rank %d) recovered", w.ID, w.Rank)
		}
		rec.Status = StatusHealthy
		rec.ConsecutiveFails = 0
		rec.LastHealthy = rec.LastCheck
		return
	}

	rec.ConsecutiveFails++
	log.Printf("health: check failed for worker %s (attempt %d/%d): %v", w.ID, rec.ConsecutiveFails, h.maxFailures, err)
	if rec.ConsecutiveFails < h.maxFailures || rec.Status == StatusUnhealthy {
		return
	}
	rec.Status = StatusUnhealthy
	log.Printf("health: worker %s (rank %d) marked unhealthy", w.ID, w.Rank)
	if h.onUnhealthy != nil {
		go h.onUnhealthy(w)
	}
}

// ping GETs addr/health. addr may be host:port or a full URL.
func (h *HealthMonitor) ping(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/health") {
		url += "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

// Health returns a copy of one worker's record, or nil if it is not
// monitored.
func (h *HealthMonitor) Health(workerID string) *WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.workers[workerID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// All returns copies of every record keyed by worker ID.
func (h *HealthMonitor) All() map[string]WorkerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]WorkerHealth, len(h.workers))
	for id, rec := range h.workers {
		out[id] = *rec
	}
	return out
}

// IsHealthy reports whether the worker passed its last check.
func (h *HealthMonitor) IsHealthy(workerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.workers[workerID]
	return ok && rec.Status == StatusHealthy
}

// Unhealthy returns the IDs of the given workers currently marked
// unhealthy. Workers not yet checked are not included.
func (h *HealthMonitor) Unhealthy(workers []cluster.NodeInfo) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for _, w := range workers {
		if rec, ok := h.workers[w.ID]; ok && rec.Status == StatusUnhealthy {
			ids = append(ids, w.ID)
		}
	}
	return ids
}
