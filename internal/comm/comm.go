// Package comm provides the worker-group primitives the engine runs on: a
// fixed rank and size, a blocking combined send-and-receive between two
// ranks, and sum / logical-AND reductions whose result is delivered to every
// rank.
//
// Implementations:
//
//	Solo       single owner, no peers
//	LocalGroup one goroutine per rank inside a process, channels between them
//	HTTPComm   one process per rank, halo rows posted peer to peer, reductions
//	           hosted by the coordinator
//	NATSComm   one process per rank, messages over NATS subjects
//	MPIComm    one process per rank, github.com/btracey/mpi
//
// The group is fixed for the lifetime of a Comm. There is no recovery from a
// missing rank: any transport error is returned to the caller, which must
// abandon the run so the remaining ranks fail too.
package comm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrAborted is returned to ranks blocked in a collective when the group
	// is torn down.
	ErrAborted = errors.New("worker group aborted")
	// ErrNoPeer is returned for an exchange with a rank outside the group
	// or with the caller itself.
	ErrNoPeer = errors.New("no such peer")
)

// Comm is one rank's handle on its group.
type Comm interface {
	Rank() int
	Size() int
	// SendRecv sends payload to peer while receiving the payload peer sends
	// back under the same tag. Both directions complete before it returns.
	SendRecv(ctx context.Context, peer int, tag int64, payload []byte) ([]byte, error)
	// AllreduceSum returns the sum of v over all ranks.
	AllreduceSum(ctx context.Context, v int64) (int64, error)
	// AllreduceAnd returns the logical AND of v over all ranks.
	AllreduceAnd(ctx context.Context, v bool) (bool, error)
}

// Kind separates the message streams sharing a mailbox.
type Kind uint8

const (
	KindHalo Kind = iota
	KindReduce
	KindResult
)

// Envelope is a point-to-point message between two ranks.
type Envelope struct {
	Payload []byte `json:"payload,omitempty"`
	Tag     int64  `json:"tag"`
	Value   int64  `json:"value"`
	From    int    `json:"from"`
	Kind    Kind   `json:"kind"`
}

// Op is a reduction operator.
type Op int

const (
	OpSum Op = iota
	OpAnd
)

func (o Op) String() string {
	switch o {
	case OpSum:
		return "sum"
	case OpAnd:
		return "and"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	switch s {
	case "sum":
		return OpSum, nil
	case "and":
		return OpAnd, nil
	default:
		return 0, fmt.Errorf("unknown reduction %q", s)
	}
}

// Combine folds one value per rank. AND treats any non-zero value as true
// and yields 1 or 0.
func (o Op) Combine(vals []int64) int64 {
	switch o {
	case OpAnd:
		for _, v := range vals {
			if v == 0 {
				return 0
			}
		}
		return 1
	default:
		var sum int64
		for _, v := range vals {
			sum += v
		}
		return sum
	}
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// pairSendRecv runs send and recv concurrently so that two ranks calling it
// against each other can never both block in send.
func pairSendRecv(ctx context.Context, send func(context.Context) error,
	recv func(context.Context) ([]byte, error)) ([]byte, error) {
	g, gctx := errgroup.WithContext(ctx)
	var got []byte
	g.Go(func() error { return send(gctx) })
	g.Go(func() error {
		var err error
		got, err = recv(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return got, nil
}

func checkPeer(rank, size, peer int) error {
	if peer < 0 || peer >= size || peer == rank {
		return fmt.Errorf("%w: rank %d asked for %d in group of %d", ErrNoPeer, rank, peer, size)
	}
	return nil
}
