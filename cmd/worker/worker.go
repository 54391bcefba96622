package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/engine"
)

// Worker is the runtime state of one worker process: the jobs it has seen,
// each with the mailbox its /halo handler fills.
type Worker struct {
	jobs map[string]*job
	// gone holds the IDs of pruned jobs, oldest first in goneOrder, so late
	// messages for them are still refused.
	gone        map[string]struct{}
	goneOrder   []string
	ID          string
	coordinator string
	// endedGrace is how long an ended job stays listed; orphanTTL is how
	// long halo rows may wait for a control message that never comes.
	endedGrace time.Duration
	orphanTTL  time.Duration
	mu         sync.Mutex
}

// maxTombstones bounds the pruned job IDs a worker remembers.
const maxTombstones = 256

// job is created by whichever arrives first: the JobControl or a halo row
// from a faster neighbour.
type job struct {
	created time.Time
	endedAt time.Time
	box     *comm.Mailbox
	cancel  context.CancelCauseFunc
	stop    context.CancelFunc
	done    chan struct{}
	control cluster.JobControl
	started bool
	ended   bool
}

// NewWorker returns a worker that reports to coordinator.
func NewWorker(id, coordinator string) *Worker {
	return &Worker{
		ID:          id,
		coordinator: strings.TrimRight(coordinator, "/"),
		jobs:        make(map[string]*job),
		gone:        make(map[string]struct{}),
		endedGrace:  time.Minute,
		orphanTTL:   2 * time.Minute,
	}
}

func (wk *Worker) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/control", wk.handleControl)
	mux.HandleFunc("/halo", wk.handleHalo)
	mux.HandleFunc("/abort", wk.handleAbort)
	mux.HandleFunc("/info", wk.handleInfo)
	return mux
}

// jobLocked returns the job record, creating it if needed. It reports false
// for a job that has already been pruned. wk.mu must be held.
func (wk *Worker) jobLocked(id string) (*job, bool) {
	if _, gone := wk.gone[id]; gone {
		return nil, false
	}
	j, ok := wk.jobs[id]
	if !ok {
		now := time.Now()
		wk.pruneLocked(now)
		j = &job{box: comm.NewMailbox(), done: make(chan struct{}), created: now}
		wk.jobs[id] = j
	}
	return j, true
}

// pruneLocked drops jobs that ended more than endedGrace ago and records
// whose control message never arrived within orphanTTL. wk.mu must be held.
func (wk *Worker) pruneLocked(now time.Time) {
	for id, j := range wk.jobs {
		stale := j.ended && now.Sub(j.endedAt) >= wk.endedGrace
		orphan := !j.started && !j.ended && now.Sub(j.created) >= wk.orphanTTL
		if !stale && !orphan {
			continue
		}
		if orphan {
			j.box.Close(nil)
		}
		delete(wk.jobs, id)
		wk.gone[id] = struct{}{}
		wk.goneOrder = append(wk.goneOrder, id)
	}
	for len(wk.goneOrder) > maxTombstones {
		delete(wk.gone, wk.goneOrder[0])
		wk.goneOrder = wk.goneOrder[1:]
	}
}

func (wk *Worker) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ctl cluster.JobControl
	if err := json.NewDecoder(r.Body).Decode(&ctl); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if ctl.JobID == "" || ctl.Rank < 0 || ctl.Rank >= len(ctl.Peers) {
		http.Error(w, fmt.Sprintf("bad control: job %q rank %d of %d", ctl.JobID, ctl.Rank, len(ctl.Peers)), http.StatusBadRequest)
		return
	}
	cfg := engine.Config{MinPow: ctl.Spec.MinPow, MaxPow: ctl.Spec.MaxPow, Lanes: ctl.Spec.Lanes}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wk.mu.Lock()
	j, ok := wk.jobLocked(ctl.JobID)
	if !ok || j.started || j.ended {
		wk.mu.Unlock()
		http.Error(w, fmt.Sprintf("job %s already seen", ctl.JobID), http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := context.CancelFunc(func() {})
	if !ctl.Deadline.IsZero() {
		ctx, stop = context.WithDeadlineCause(ctx, ctl.Deadline,
			fmt.Errorf("%w: job %s passed its deadline", comm.ErrAborted, ctl.JobID))
	}
	j.started = true
	j.control = ctl
	j.cancel = cancel
	j.stop = stop
	wk.mu.Unlock()

	log.Printf("node[%s] job %s: rank %d of %d, sizes 2^%d..2^%d, %d lanes",
		wk.ID, ctl.JobID, ctl.Rank, len(ctl.Peers), ctl.Spec.MinPow, ctl.Spec.MaxPow, ctl.Spec.Lanes)
	go wk.run(ctx, j, cfg)
	w.WriteHeader(http.StatusAccepted)
}

// run executes the job and reports to the coordinator.
func (wk *Worker) run(ctx context.Context, j *job, cfg engine.Config) {
	defer close(j.done)
	defer j.cancel(nil)
	defer j.stop()
	ctl := j.control

	c := comm.NewHTTPComm(ctl.JobID, ctl.Rank, ctl.Peers, wk.coordinator, j.box)
	report := cluster.ResultReport{JobID: ctl.JobID, Rank: ctl.Rank}

	e, err := engine.New(c, cfg)
	var results []engine.Result
	if err == nil {
		results, err = e.Run(ctx)
	}
	for _, res := range results {
		report.Results = append(report.Results, res.Wire())
		if ctl.Rank == 0 {
			log.Printf("node[%s] job %s\n%s", wk.ID, ctl.JobID, res.Report())
		}
	}
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w (%v)", cause, err)
		}
		report.Error = err.Error()
		log.Printf("node[%s] job %s failed: %v", wk.ID, ctl.JobID, err)
	}

	wk.end(ctl.JobID, nil)

	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cluster.PostJSON(pctx, wk.coordinator+"/results", report, nil); err != nil {
		log.Printf("node[%s] job %s: report: %v", wk.ID, ctl.JobID, err)
	}
}

// end marks a job finished, waking any receive still waiting on it with
// cause. Later halo rows for the job are dropped.
func (wk *Worker) end(jobID string, cause error) {
	wk.mu.Lock()
	j, ok := wk.jobLocked(jobID)
	if !ok {
		wk.mu.Unlock()
		return
	}
	if !j.ended {
		j.ended = true
		j.endedAt = time.Now()
	}
	cancel := j.cancel
	wk.mu.Unlock()

	j.box.Close(cause)
	if cancel != nil {
		cancel(cause)
	}
}

func (wk *Worker) handleHalo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg cluster.HaloMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	wk.mu.Lock()
	j, ok := wk.jobLocked(msg.JobID)
	ended := !ok || j.ended
	wk.mu.Unlock()

	if ended {
		http.Error(w, fmt.Sprintf("job %s has ended", msg.JobID), http.StatusGone)
		return
	}
	j.box.Deliver(comm.HaloEnvelope(msg))
	w.WriteHeader(http.StatusNoContent)
}

func (wk *Worker) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	log.Printf("node[%s] job %s: abort: %s", wk.ID, req.JobID, req.Reason)
	wk.end(req.JobID, fmt.Errorf("%w: %s", comm.ErrAborted, req.Reason))
	w.WriteHeader(http.StatusNoContent)
}

// jobInfo is one entry of GET /info.
type jobInfo struct {
	JobID   string `json:"job_id"`
	Rank    int    `json:"rank"`
	Started bool   `json:"started"`
	Ended   bool   `json:"ended"`
}

func (wk *Worker) handleInfo(w http.ResponseWriter, _ *http.Request) {
	wk.mu.Lock()
	infos := make([]jobInfo, 0, len(wk.jobs))
	for id, j := range wk.jobs {
		infos = append(infos, jobInfo{JobID: id, Rank: j.control.Rank, Started: j.started, Ended: j.ended})
	}
	wk.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		NodeID string    `json:"node_id"`
		Jobs   []jobInfo `json:"jobs"`
	}{NodeID: wk.ID, Jobs: infos})
}

// AbortAll ends every job still running.
func (wk *Worker) AbortAll(reason string) {
	wk.mu.Lock()
	var running []string
	for id, j := range wk.jobs {
		if j.started && !j.ended {
			running = append(running, id)
		}
	}
	wk.mu.Unlock()
	for _, id := range running {
		wk.end(id, fmt.Errorf("%w: %s", comm.ErrAborted, reason))
	}
}

// Wait blocks until the job has reported, for tests and shutdown.
func (wk *Worker) Wait(ctx context.Context, jobID string) error {
	wk.mu.Lock()
	j, ok := wk.jobs[jobID]
	wk.mu.Unlock()
	if !ok || !j.started {
		return errors.New("job not started")
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
