package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hybridlife/internal/cluster"
)

func twoWorkers() []cluster.NodeInfo {
	return []cluster.NodeInfo{
		{ID: "worker-a", Addr: "http://localhost:8081", Rank: 0},
		{ID: "worker-b", Addr: "http://localhost:8082", Rank: 1},
	}
}

// TestNewHealthMonitor verifies the defaults of a fresh monitor.
func TestNewHealthMonitor(t *testing.T) {
	monitor := NewHealthMonitor(5 * time.Second)
	defer monitor.Stop()

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 2*time.Second, monitor.timeout)
	assert.Equal(t, 3, monitor.maxFailures)
	assert.NotNil(t, monitor.httpClient)
	assert.Empty(t, monitor.All())
}

// TestHealthMonitorStart verifies that checks run immediately and then on
// every tick.
func TestHealthMonitorStart(t *testing.T) {
	monitor := NewHealthMonitor(20 * time.Millisecond)
	var calls atomic.Int64
	monitor.SetCheckFunction(func(context.Context, string) error {
		calls.Add(1)
		return nil
	})

	go monitor.Start(context.Background(), twoWorkers)
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	monitor.Stop()

	assert.True(t, monitor.IsHealthy("worker-a"))
	assert.True(t, monitor.IsHealthy("worker-b"))
	assert.Equal(t, 1, monitor.Health("worker-b").Rank)
}

// TestHealthMonitorWorkerFailure verifies that a worker is marked unhealthy
// only after maxFailures consecutive failures, and that the callback fires
// once.
func TestHealthMonitorWorkerFailure(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour)
	monitor.SetCheckFunction(func(_ context.Context, addr string) error {
		if addr == "http://localhost:8082" {
			return errors.New("connection refused")
		}
		return nil
	})
	var lost []string
	var mu sync.Mutex
	done := make(chan struct{}, 4)
	monitor.SetOnUnhealthy(func(w cluster.NodeInfo) {
		mu.Lock()
		lost = append(lost, w.ID)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		monitor.checkAll(ctx, twoWorkers())
	}
	h := monitor.Health("worker-b")
	require.NotNil(t, h)
	assert.Equal(t, StatusUnknown, h.Status)
	assert.Equal(t, 2, h.ConsecutiveFails)
	assert.Empty(t, monitor.Unhealthy(twoWorkers()))

	for i := 0; i < 3; i++ {
		monitor.checkAll(ctx, twoWorkers())
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not invoked")
	}

	assert.Equal(t, StatusUnhealthy, monitor.Health("worker-b").Status)
	assert.True(t, monitor.IsHealthy("worker-a"))
	assert.Equal(t, []string{"worker-b"}, monitor.Unhealthy(twoWorkers()))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"worker-b"}, lost)
	mu.Unlock()
}

// TestHealthMonitorWorkerRecovery verifies that one good check clears the
// failure count.
func TestHealthMonitorWorkerRecovery(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour)
	var failing atomic.Bool
	failing.Store(true)
	monitor.SetCheckFunction(func(context.Context, string) error {
		if failing.Load() {
			return errors.New("down")
		}
		return nil
	})

	workers := twoWorkers()[:1]
	for i := 0; i < 3; i++ {
		monitor.checkAll(context.Background(), workers)
	}
	assert.Equal(t, StatusUnhealthy, monitor.Health("worker-a").Status)

	failing.Store(false)
	monitor.checkAll(context.Background(), workers)
	h := monitor.Health("worker-a")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Zero(t, h.ConsecutiveFails)
	assert.False(t, h.LastHealthy.Before(h.LastCheck))
}

// TestHealthMonitorWorkerRemoval verifies that workers no longer provided
// stop being tracked.
func TestHealthMonitorWorkerRemoval(t *testing.T) {
	monitor := NewHealthMonitor(time.Hour)
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })

	monitor.checkAll(context.Background(), twoWorkers())
	assert.Len(t, monitor.All(), 2)

	monitor.checkAll(context.Background(), twoWorkers()[:1])
	assert.Len(t, monitor.All(), 1)
	assert.Nil(t, monitor.Health("worker-b"))
}

// TestHealthMonitorStop verifies that Stop returns once Start has exited.
func TestHealthMonitorStop(t *testing.T) {
	monitor := NewHealthMonitor(10 * time.Millisecond)
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })

	exited := make(chan struct{})
	go func() {
		monitor.Start(context.Background(), twoWorkers)
		close(exited)
	}()
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

// TestHealthMonitorPing exercises the default HTTP check.
func TestHealthMonitorPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	monitor := NewHealthMonitor(time.Hour)
	ctx := context.Background()
	assert.NoError(t, monitor.ping(ctx, healthy.URL))
	assert.NoError(t, monitor.ping(ctx, healthy.URL+"/"))
	assert.NoError(t, monitor.ping(ctx, healthy.Listener.Addr().String()))
	assert.Error(t, monitor.ping(ctx, broken.URL))
	assert.Error(t, monitor.ping(ctx, "http://127.0.0.1:1"))
}

// TestHealthMonitorConcurrency reads records while checks run.
func TestHealthMonitorConcurrency(t *testing.T) {
	monitor := NewHealthMonitor(time.Millisecond)
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })
	go monitor.Start(context.Background(), twoWorkers)
	defer monitor.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				monitor.All()
				monitor.IsHealthy("worker-a")
				monitor.Health("worker-b")
				monitor.Unhealthy(twoWorkers())
			}
		}()
	}
	wg.Wait()
}
