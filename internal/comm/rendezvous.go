package comm

import (
	"context"
	"fmt"
	"sync"
)

// retiredGroups bounds how many forgotten groups keep a tombstone.
const retiredGroups = 1024

// Rendezvous collects one contribution per rank for numbered reduction
// rounds and releases every contributor once the round is complete.
// Rounds are grouped by an arbitrary key (a job ID) so one Rendezvous can
// serve several groups. It is safe for concurrent use.
type Rendezvous struct {
	rounds  map[roundKey]*round
	aborted map[string]error
	retired []string
	mu      sync.Mutex
}

type roundKey struct {
	group string
	seq   int64
}

type round struct {
	done   chan struct{}
	err    error
	vals   []int64
	seen   []bool
	result int64
	n      int
	op     Op
}

// NewRendezvous returns an empty Rendezvous.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{
		rounds:  make(map[roundKey]*round),
		aborted: make(map[string]error),
	}
}

// Contribute adds rank's value to round seq of group and blocks until all
// size ranks have contributed, the group is aborted, or ctx is done.
func (rv *Rendezvous) Contribute(ctx context.Context, group string, seq int64,
	rank, size int, op Op, v int64) (int64, error) {
	if size <= 0 || rank < 0 || rank >= size {
		return 0, fmt.Errorf("rank %d out of range for group of %d", rank, size)
	}

	rv.mu.Lock()
	if err := rv.aborted[group]; err != nil {
		rv.mu.Unlock()
		return 0, err
	}
	key := roundKey{group: group, seq: seq}
	r, ok := rv.rounds[key]
	if !ok {
		r = &round{
			done: make(chan struct{}),
			vals: make([]int64, size),
			seen: make([]bool, size),
			op:   op,
		}
		rv.rounds[key] = r
	}
	switch {
	case len(r.vals) != size:
		rv.mu.Unlock()
		return 0, fmt.Errorf("round %d: rank %d reports group of %d, round has %d", seq, rank, size, len(r.vals))
	case r.op != op:
		rv.mu.Unlock()
		return 0, fmt.Errorf("round %d: rank %d asks for %s, round is %s", seq, rank, op, r.op)
	case r.seen[rank]:
		rv.mu.Unlock()
		return 0, fmt.Errorf("round %d: rank %d contributed twice", seq, rank)
	}
	r.vals[rank] = v
	r.seen[rank] = true
	r.n++
	if r.n == size {
		r.result = op.Combine(r.vals)
		delete(rv.rounds, key)
		close(r.done)
	}
	rv.mu.Unlock()

	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Abort fails every pending and future round of group with err.
func (rv *Rendezvous) Abort(group string, err error) {
	if err == nil {
		err = ErrAborted
	}
	rv.mu.Lock()
	defer rv.mu.Unlock()
	rv.markLocked(group, err)
	for key, r := range rv.rounds {
		if key.group != group {
			continue
		}
		r.err = err
		delete(rv.rounds, key)
		close(r.done)
	}
}

// Forget drops the rounds kept for group. The group keeps a tombstone, its
// abort error or ErrAborted, so a straggler contributing later fails at
// once instead of opening a round nobody will complete. Only the most
// recent retiredGroups tombstones are kept.
func (rv *Rendezvous) Forget(group string) {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	err := rv.aborted[group]
	if err == nil {
		err = fmt.Errorf("%w: group %s has ended", ErrAborted, group)
	}
	for key, r := range rv.rounds {
		if key.group == group {
			r.err = err
			delete(rv.rounds, key)
			close(r.done)
		}
	}
	rv.markLocked(group, err)
}

// markLocked records err as group's tombstone and evicts the oldest ones
// past retiredGroups. rv.mu must be held.
func (rv *Rendezvous) markLocked(group string, err error) {
	if _, ok := rv.aborted[group]; !ok {
		rv.retired = append(rv.retired, group)
	}
	rv.aborted[group] = err
	for len(rv.retired) > retiredGroups {
		delete(rv.aborted, rv.retired[0])
		rv.retired = rv.retired[1:]
	}
}

// Pending returns the number of incomplete rounds across all groups.
func (rv *Rendezvous) Pending() int {
	rv.mu.Lock()
	defer rv.mu.Unlock()
	return len(rv.rounds)
}
