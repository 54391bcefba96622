// Package coordinator implements the orchestration layer of a hybridlife
// worker group. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/hybridlife/internal/cluster"
)

var (
	// ErrGroupFull is returned when a new worker registers with a complete group.
	ErrGroupFull = errors.New("worker group is full")
	// ErrGroupIncomplete is returned when a job needs every worker but some
	// have not registered yet.
	ErrGroupIncomplete = errors.New("worker group is incomplete")
)

// Group is the fixed-size set of workers that run row-partitioned jobs,
// and the authoritative source for rank assignment.
//
// Ranks are handed out in registration order and never change for the life
// of the coordinator:
//
//	┌──────────────────────────────────────────┐
//	│                 Group                    │
//	├──────────────────────────────────────────┤
//	│  size: GROUP_SIZE                        │
//	│  workers[rank] → {ID, Addr, Rank}        │
//	├──────────────────────────────────────────┤
//	│  register "w-a" → rank 0                 │
//	│  register "w-b" → rank 1                 │
//	│  register "w-a" again → rank 0, new addr │
//	└──────────────────────────────────────────┘
//
// A worker that restarts and registers again under the same ID keeps its
// rank and has its address updated. The peer list handed to a job is
// indexed by rank, so every worker agrees on who its neighbours are.
//
// Thread Safety:
// All methods are safe for concurrent use. Returned slices are copies.
type Group struct {
	// workers is indexed by rank.
	workers []cluster.NodeInfo

	mu sync.RWMutex

	// size is the number of workers a complete group has.
	size int
}

// NewGroup returns an empty group that is complete once size workers have
// registered.
//
// Example:
//
//	group := NewGroup(4)
//	info, err := group.Register("worker-1", "http://10.0.0.5:8081")
func NewGroup(size int) *Group {
	if size < 1 {
		size = 1
	}
	return &Group{size: size, workers: make([]cluster.NodeInfo, 0, size)}
}

// Register adds a worker or refreshes the address of a known one, and
// returns its record including the assigned rank.
//
// Returns ErrGroupFull if the ID is new and the group already has size
// members.
func (g *Group) Register(id, addr string) (cluster.NodeInfo, error) {
	if id == "" || addr == "" {
		return cluster.NodeInfo{}, fmt.Errorf("register: id and addr are required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if i := slices.IndexFunc(g.workers, func(n cluster.NodeInfo) bool { return n.ID == id }); i >= 0 {
		g.workers[i].Addr = addr
		return g.workers[i], nil
	}
	if len(g.workers) >= g.size {
		return cluster.NodeInfo{}, fmt.Errorf("%w: %d of %d registered, %q refused", ErrGroupFull, len(g.workers), g.size, id)
	}

	n := cluster.NodeInfo{ID: id, Addr: addr, Rank: len(g.workers)}
	g.workers = append(g.workers, n)
	return n, nil
}

// Lookup returns the worker registered under id.
func (g *Group) Lookup(id string) (cluster.NodeInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i := slices.IndexFunc(g.workers, func(n cluster.NodeInfo) bool { return n.ID == id })
	if i < 0 {
		return cluster.NodeInfo{}, false
	}
	return g.workers[i], true
}

// Workers returns the registered workers in rank order.
func (g *Group) Workers() []cluster.NodeInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.workers)
}

// Peers returns every worker's address indexed by rank, or
// ErrGroupIncomplete if some rank is still missing.
func (g *Group) Peers() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.workers) < g.size {
		return nil, fmt.Errorf("%w: %d of %d registered", ErrGroupIncomplete, len(g.workers), g.size)
	}
	peers := make([]string, len(g.workers))
	for _, n := range g.workers {
		peers[n.Rank] = n.Addr
	}
	return peers, nil
}

// Complete reports whether every rank has registered.
func (g *Group) Complete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.workers) == g.size
}

// Size returns the number of workers in a complete group.
func (g *Group) Size() int { return g.size }

// Registered returns how many workers have registered so far.
func (g *Group) Registered() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.workers)
}
