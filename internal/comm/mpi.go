package comm

import (
	"context"
	"fmt"

	"github.com/btracey/mpi"
)

// MPIComm is a rank of a group launched with gompirun (or with explicit
// -mpi-addr / -mpi-alladdr flags). The btracey/mpi calls block without a
// context, so cancellation only takes effect between messages.
type MPIComm struct {
	seq int64
}

// InitMPI initialises the process-wide MPI state. flag.Parse must have run.
func InitMPI() (*MPIComm, error) {
	if err := mpi.Init(); err != nil {
		return nil, fmt.Errorf("mpi init: %w", err)
	}
	if mpi.Rank() < 0 {
		return nil, fmt.Errorf("mpi init: no rank assigned")
	}
	return &MPIComm{}, nil
}

// mpiTag folds the message kind into the integer tag MPI matches on.
func mpiTag(kind Kind, tag int64) int {
	return int(tag)*3 + int(kind)
}

func (c *MPIComm) send(ctx context.Context, to int, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := mpi.Send(env, to, mpiTag(env.Kind, env.Tag)); err != nil {
		return fmt.Errorf("mpi send to %d: %w", to, err)
	}
	return nil
}

func (c *MPIComm) recv(ctx context.Context, from int, kind Kind, tag int64) (Envelope, error) {
	var env Envelope
	if err := ctx.Err(); err != nil {
		return env, err
	}
	if err := mpi.Receive(&env, from, mpiTag(kind, tag)); err != nil {
		return env, fmt.Errorf("mpi receive from %d: %w", from, err)
	}
	return env, nil
}

func (c *MPIComm) Rank() int { return mpi.Rank() }
func (c *MPIComm) Size() int { return mpi.Size() }

func (c *MPIComm) SendRecv(ctx context.Context, peer int, tag int64, payload []byte) ([]byte, error) {
	if err := checkPeer(c.Rank(), c.Size(), peer); err != nil {
		return nil, err
	}
	return pairSendRecv(ctx,
		func(ctx context.Context) error {
			return c.send(ctx, peer, Envelope{Kind: KindHalo, From: c.Rank(), Tag: tag, Payload: payload})
		},
		func(ctx context.Context) ([]byte, error) {
			env, err := c.recv(ctx, peer, KindHalo, tag)
			return env.Payload, err
		})
}

func (c *MPIComm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	c.seq++
	return reduceAtRoot(ctx, c, c.Rank(), c.Size(), c.seq, OpSum, v)
}

func (c *MPIComm) AllreduceAnd(ctx context.Context, v bool) (bool, error) {
	c.seq++
	r, err := reduceAtRoot(ctx, c, c.Rank(), c.Size(), c.seq, OpAnd, boolValue(v))
	return r != 0, err
}

// Close shuts the MPI state down.
func (c *MPIComm) Close() {
	mpi.Finalize()
}
