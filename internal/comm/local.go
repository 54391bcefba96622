package comm

import (
	"context"
	"fmt"
)

// linkDepth bounds how far a sender may run ahead of its receiver on one
// directed link. A rank can be at most one exchange ahead of a neighbour, so
// two slots are enough for the sender never to wait.
const linkDepth = 2

// LocalGroup is a worker group whose ranks are goroutines of one process.
// Each ordered pair of ranks has its own FIFO link, so messages between two
// ranks are received in the order they were sent.
type LocalGroup struct {
	links [][]chan Envelope
	rv    *Rendezvous
	size  int
}

// NewLocalGroup wires a group of size ranks.
func NewLocalGroup(size int) *LocalGroup {
	links := make([][]chan Envelope, size)
	for from := range links {
		links[from] = make([]chan Envelope, size)
		for to := range links[from] {
			if to != from {
				links[from][to] = make(chan Envelope, linkDepth)
			}
		}
	}
	return &LocalGroup{links: links, rv: NewRendezvous(), size: size}
}

// Size returns the number of ranks.
func (g *LocalGroup) Size() int { return g.size }

// Member returns rank's handle. Each rank must use its own handle from a
// single goroutine.
func (g *LocalGroup) Member(rank int) Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d out of range for group of %d", rank, g.size))
	}
	return &localComm{g: g, rank: rank}
}

type localComm struct {
	g    *LocalGroup
	seq  int64
	rank int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.g.size }

func (c *localComm) SendRecv(ctx context.Context, peer int, tag int64, payload []byte) ([]byte, error) {
	if err := checkPeer(c.rank, c.g.size, peer); err != nil {
		return nil, err
	}
	out := c.g.links[c.rank][peer]
	in := c.g.links[peer][c.rank]

	// the receiver keeps the slice, so send a copy of the caller's row
	msg := Envelope{Kind: KindHalo, From: c.rank, Tag: tag, Payload: append([]byte(nil), payload...)}

	return pairSendRecv(ctx,
		func(ctx context.Context) error {
			select {
			case out <- msg:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		func(ctx context.Context) ([]byte, error) {
			select {
			case env := <-in:
				if env.Tag != tag {
					return nil, fmt.Errorf("rank %d: expected tag %d from rank %d, got %d", c.rank, tag, peer, env.Tag)
				}
				return env.Payload, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
}

func (c *localComm) reduce(ctx context.Context, op Op, v int64) (int64, error) {
	c.seq++
	return c.g.rv.Contribute(ctx, "", c.seq, c.rank, c.g.size, op, v)
}

func (c *localComm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	return c.reduce(ctx, OpSum, v)
}

func (c *localComm) AllreduceAnd(ctx context.Context, v bool) (bool, error) {
	r, err := c.reduce(ctx, OpAnd, boolValue(v))
	return r != 0, err
}
