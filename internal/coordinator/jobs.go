package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
)

var (
	// ErrBusy is returned when a group job is submitted while another runs.
	ErrBusy = errors.New("a group job is already running")
	// ErrUnknownJob is returned for reports about a job the tracker never
	// started or already forgot.
	ErrUnknownJob = errors.New("unknown job")
)

// Job is one group job: every rank runs the same size range and reports
// back once.
type Job struct {
	Started time.Time
	reports map[int]cluster.ResultReport
	err     error
	done    chan struct{}
	ID      string
	Spec    cluster.JobSpec
	Size    int
}

// Done is closed when every rank has reported or the job was aborted.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job ends and returns its merged results.
func (j *Job) Wait(ctx context.Context) ([]cluster.SizeResult, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if j.err != nil {
		return nil, j.err
	}
	return mergeReports(j.reports, j.Size)
}

// mergeReports combines per-rank reports into one result per size. The
// verdict is the same on every rank; the phase timings are the slowest
// rank's.
func mergeReports(reports map[int]cluster.ResultReport, size int) ([]cluster.SizeResult, error) {
	root, ok := reports[0]
	if !ok {
		return nil, fmt.Errorf("no report from rank 0")
	}
	merged := append([]cluster.SizeResult(nil), root.Results...)
	for rank := 1; rank < size; rank++ {
		r, ok := reports[rank]
		if !ok {
			return nil, fmt.Errorf("no report from rank %d", rank)
		}
		if len(r.Results) != len(merged) {
			return nil, fmt.Errorf("rank %d reported %d sizes, rank 0 reported %d", rank, len(r.Results), len(merged))
		}
		for i, sr := range r.Results {
			m := &merged[i]
			if sr.Size != m.Size || sr.Correct != m.Correct {
				return nil, fmt.Errorf("rank %d disagrees on size %d", rank, m.Size)
			}
			m.Setup = max(m.Setup, sr.Setup)
			m.Compute = max(m.Compute, sr.Compute)
			m.Validation = max(m.Validation, sr.Validation)
			m.Total = max(m.Total, sr.Total)
		}
	}
	return merged, nil
}

// Tracker admits at most one group job at a time and collects its
// reports. It is safe for concurrent use.
type Tracker struct {
	jobs    map[string]*Job
	running *Job
	now     func() time.Time
	mu      sync.Mutex
	seq     int64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*Job), now: time.Now}
}

// Begin registers a new job for a group of size ranks. It returns ErrBusy
// while another job is running.
func (t *Tracker) Begin(spec cluster.JobSpec, size int) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running != nil {
		return nil, fmt.Errorf("%w: %s", ErrBusy, t.running.ID)
	}
	t.seq++
	j := &Job{
		ID:      fmt.Sprintf("job-%d", t.seq),
		Spec:    spec,
		Size:    size,
		Started: t.now(),
		reports: make(map[int]cluster.ResultReport, size),
		done:    make(chan struct{}),
	}
	t.jobs[j.ID] = j
	t.running = j
	return j, nil
}

// Report records one rank's report. A report carrying an error ends the
// job with that error.
func (t *Tracker) Report(r cluster.ResultReport) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[r.JobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, r.JobID)
	}
	if r.Rank < 0 || r.Rank >= j.Size {
		return fmt.Errorf("report for %s from rank %d outside group of %d", r.JobID, r.Rank, j.Size)
	}
	if isClosed(j.done) {
		return nil
	}

	j.reports[r.Rank] = r
	switch {
	case r.Error != "":
		t.finishLocked(j, fmt.Errorf("rank %d: %s", r.Rank, r.Error))
	case len(j.reports) == j.Size:
		t.finishLocked(j, nil)
	}
	return nil
}

// Abort ends the job with reason as its error. It reports whether the job
// was still running.
func (t *Tracker) Abort(jobID, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[jobID]
	if !ok || isClosed(j.done) {
		return false
	}
	t.finishLocked(j, fmt.Errorf("job %s aborted: %s", jobID, reason))
	return true
}

// Running returns the job in progress, or nil.
func (t *Tracker) Running() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Forget drops a finished job's state.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[jobID]; ok && isClosed(j.done) {
		delete(t.jobs, jobID)
	}
}

func (t *Tracker) finishLocked(j *Job, err error) {
	j.err = err
	close(j.done)
	if t.running == j {
		t.running = nil
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
