package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/comm"
	"github.com/dreamware/hybridlife/internal/coordinator"
	"github.com/dreamware/hybridlife/internal/dispatch"
	"github.com/dreamware/hybridlife/internal/engine"
	"github.com/dreamware/hybridlife/internal/protocol"
	"github.com/dreamware/hybridlife/internal/stats"
	"github.com/dreamware/hybridlife/internal/storage"
)

type server struct {
	group    *coordinator.Group
	health   *coordinator.HealthMonitor
	tracker  *coordinator.Tracker
	rv       *comm.Rendezvous
	store    storage.Store
	counters *stats.Counters
	local    dispatch.Runner

	localSeq   atomic.Int64
	lanes      int
	jobTimeout time.Duration
}

func newServer(groupSize int) *server {
	return &server{
		group:      coordinator.NewGroup(groupSize),
		health:     coordinator.NewHealthMonitor(2 * time.Second),
		tracker:    coordinator.NewTracker(),
		rv:         comm.NewRendezvous(),
		store:      storage.NewMemoryStore(),
		counters:   stats.New(),
		local:      dispatch.InProcess{},
		jobTimeout: 30 * time.Minute,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/nodes", s.handleListNodes)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJob)
	mux.HandleFunc("/reduce", s.handleReduce)
	mux.HandleFunc("/results", s.handleResults)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	_, known := s.group.Lookup(req.Node.ID)
	n, err := s.group.Register(req.Node.ID, req.Node.Addr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	verb := "registered"
	if known {
		verb = "re-registered"
	}
	log.Printf("%s worker %s at %s as rank %d (%d/%d)",
		verb, n.ID, n.Addr, n.Rank, s.group.Registered(), s.group.Size())
	writeJSON(w, http.StatusOK, cluster.RegisterResponse{Rank: n.Rank, GroupSize: s.group.Size()})
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes     []cluster.NodeInfo                  `json:"nodes"`
		Health    map[string]coordinator.WorkerHealth `json:"health"`
		GroupSize int                                 `json:"group_size"`
		Complete  bool                                `json:"complete"`
	}{
		Nodes:     s.group.Workers(),
		Health:    s.health.All(),
		GroupSize: s.group.Size(),
		Complete:  s.group.Complete(),
	})
}

// jobRequest is the body of POST /jobs.
type jobRequest struct {
	Engine  string `json:"engine"`
	MinPow  int    `json:"min_pow"`
	MaxPow  int    `json:"max_pow"`
	Threads int    `json:"threads"`
	Workers int    `json:"workers"`
}

func (s *server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, struct {
			Jobs []string `json:"jobs"`
		}{Jobs: s.store.List()})
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body jobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req := protocol.Request{
		Command: protocol.Run,
		Engine:  strings.ToLower(body.Engine),
		MinPow:  body.MinPow,
		MaxPow:  body.MaxPow,
		Threads: body.Threads,
		Workers: body.Workers,
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	doc, err := s.execute(r.Context(), req)
	s.counters.Record(err == nil, time.Since(start))
	switch {
	case errors.Is(err, protocol.ErrParams):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, coordinator.ErrGroupIncomplete), errors.Is(err, coordinator.ErrBusy):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil && doc.JobID == "":
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, doc)
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}
	doc, err := s.store.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleReduce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.ReduceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	op, err := comm.ParseOp(req.Op)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := s.rv.Contribute(r.Context(), req.JobID, req.Seq, req.Rank, req.Size, op, req.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, cluster.ReduceResponse{Value: v})
}

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var rep cluster.ResultReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := s.tracker.Report(rep); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if rep.Error != "" {
		log.Printf("job %s: rank %d failed: %s", rep.JobID, rep.Rank, rep.Error)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Dispatch stats.Snapshot     `json:"dispatch"`
		Store    storage.StoreStats `json:"store"`
		Pending  int                `json:"pending_reductions"`
	}{
		Dispatch: s.counters.Snapshot(),
		Store:    s.store.Stats(),
		Pending:  s.rv.Pending(),
	})
}

// Run lets the dispatch server submit line-protocol requests.
func (s *server) Run(ctx context.Context, req protocol.Request) ([]cluster.SizeResult, error) {
	doc, err := s.execute(ctx, req)
	return doc.Results, err
}

// execute runs req, on the worker group for row-partitioned engines and
// inside the coordinator otherwise, and stores its document.
func (s *server) execute(ctx context.Context, req protocol.Request) (storage.Document, error) {
	flavor, err := engine.Lookup(req.Engine)
	if err != nil {
		return storage.Document{}, err
	}
	lanes := flavor.Lanes(firstPositive(req.Threads, s.lanes))

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	if flavor.Distribution == engine.SingleOwner {
		doc := storage.Document{
			JobID:     fmt.Sprintf("local-%d", s.localSeq.Add(1)),
			Engine:    flavor.Name,
			State:     storage.StateRunning,
			MinPow:    req.MinPow,
			MaxPow:    req.MaxPow,
			Workers:   1,
			Lanes:     lanes,
			Submitted: time.Now(),
		}
		s.store.Put(doc)
		req.Threads = lanes
		results, err := s.local.Run(ctx, req)
		return s.finish(doc, results, err), err
	}

	// the group's size is fixed at startup
	if req.Workers > 0 && req.Workers != s.group.Size() {
		return storage.Document{}, fmt.Errorf("%w: %s runs on the %d registered workers, not %d",
			protocol.ErrParams, flavor.Name, s.group.Size(), req.Workers)
	}
	return s.runGroup(ctx, cluster.JobSpec{
		Engine: flavor.Name,
		MinPow: req.MinPow,
		MaxPow: req.MaxPow,
		Lanes:  lanes,
	})
}

// runGroup starts spec on every worker and waits for all their reports.
func (s *server) runGroup(ctx context.Context, spec cluster.JobSpec) (storage.Document, error) {
	peers, err := s.group.Peers()
	if err != nil {
		return storage.Document{}, err
	}
	workers := s.group.Workers()
	if lost := s.health.Unhealthy(workers); len(lost) > 0 {
		return storage.Document{}, fmt.Errorf("%w: unhealthy workers %v", coordinator.ErrGroupIncomplete, lost)
	}

	job, err := s.tracker.Begin(spec, len(peers))
	if err != nil {
		return storage.Document{}, err
	}
	defer s.tracker.Forget(job.ID)
	defer s.rv.Forget(job.ID)

	doc := storage.Document{
		JobID:     job.ID,
		Engine:    spec.Engine,
		State:     storage.StateRunning,
		MinPow:    spec.MinPow,
		MaxPow:    spec.MaxPow,
		Workers:   len(peers),
		Lanes:     spec.Lanes,
		Submitted: job.Started,
	}
	s.store.Put(doc)
	log.Printf("job %s: %s sizes 2^%d..2^%d on %d workers x %d lanes",
		job.ID, spec.Engine, spec.MinPow, spec.MaxPow, len(peers), spec.Lanes)

	deadline, _ := ctx.Deadline()
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range workers {
		ctl := cluster.JobControl{JobID: job.ID, Peers: peers, Spec: spec, Rank: n.Rank, Deadline: deadline}
		g.Go(func() error {
			if err := cluster.PostJSON(gctx, strings.TrimRight(n.Addr, "/")+"/control", ctl, nil); err != nil {
				return fmt.Errorf("start %s on %s: %w", job.ID, n.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.abortJob(job.ID, err.Error())
		_, _ = job.Wait(context.Background())
		return s.finish(doc, nil, err), err
	}

	results, err := job.Wait(ctx)
	if err != nil {
		s.abortJob(job.ID, err.Error())
	}
	return s.finish(doc, results, err), err
}

// finish records the outcome of a job in its document.
func (s *server) finish(doc storage.Document, results []cluster.SizeResult, err error) storage.Document {
	doc.Finished = time.Now()
	doc.Results = results
	doc.State = storage.StateDone
	if err != nil {
		doc.State = storage.StateFailed
		doc.Error = err.Error()
		log.Printf("job %s failed: %v", doc.JobID, err)
	} else {
		log.Printf("job %s done in %.3fs", doc.JobID, doc.Finished.Sub(doc.Submitted).Seconds())
	}
	if perr := s.store.Put(doc); perr != nil {
		log.Printf("store %s: %v", storage.Key(doc.JobID), perr)
	}
	return doc
}

// abortJob fails the job everywhere: the tracker stops waiting, pending
// reductions return an error and every worker is told to stop.
func (s *server) abortJob(jobID, reason string) {
	s.tracker.Abort(jobID, reason)
	s.rv.Abort(jobID, fmt.Errorf("%w: %s", comm.ErrAborted, reason))
	log.Printf("job %s: aborting: %s", jobID, reason)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, n := range s.group.Workers() {
		if err := cluster.PostJSON(ctx, strings.TrimRight(n.Addr, "/")+"/abort",
			cluster.AbortRequest{JobID: jobID, Reason: reason}, nil); err != nil {
			log.Printf("job %s: abort %s: %v", jobID, n.ID, err)
		}
	}
}

// workerLost is the health monitor's callback. Failing the tracked job
// wakes runGroup, which tells the other workers.
func (s *server) workerLost(n cluster.NodeInfo) {
	if job := s.tracker.Running(); job != nil {
		s.tracker.Abort(job.ID, fmt.Sprintf("worker %s (rank %d) is unhealthy", n.ID, n.Rank))
	}
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
