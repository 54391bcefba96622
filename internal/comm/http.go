package comm

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dreamware/hybridlife/internal/cluster"
)

// HTTPComm is a rank of a worker group whose members are separate worker
// processes. Halo rows are posted straight to the peer's /halo endpoint and
// picked up from the local Mailbox, which the worker's /halo handler fills.
// Reductions are parked on the coordinator's /reduce endpoint.
type HTTPComm struct {
	box         *Mailbox
	jobID       string
	coordinator string
	peers       []string
	seq         atomic.Int64
	rank        int
}

// NewHTTPComm returns rank's handle for job. peers holds every worker's base
// URL indexed by rank; inbox is where this worker's /halo handler delivers.
func NewHTTPComm(jobID string, rank int, peers []string, coordinator string, inbox *Mailbox) *HTTPComm {
	return &HTTPComm{
		box:         inbox,
		jobID:       jobID,
		coordinator: strings.TrimRight(coordinator, "/"),
		peers:       peers,
		rank:        rank,
	}
}

func (c *HTTPComm) Rank() int { return c.rank }
func (c *HTTPComm) Size() int { return len(c.peers) }

func (c *HTTPComm) SendRecv(ctx context.Context, peer int, tag int64, payload []byte) ([]byte, error) {
	if err := checkPeer(c.rank, len(c.peers), peer); err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.peers[peer], "/") + "/halo"
	msg := cluster.HaloMessage{JobID: c.jobID, Row: payload, Tag: tag, From: c.rank}

	return pairSendRecv(ctx,
		func(ctx context.Context) error {
			return cluster.PostJSON(ctx, url, msg, nil)
		},
		func(ctx context.Context) ([]byte, error) {
			env, err := c.box.Await(ctx, KindHalo, peer, tag)
			if err != nil {
				return nil, err
			}
			return env.Payload, nil
		})
}

func (c *HTTPComm) reduce(ctx context.Context, op Op, v int64) (int64, error) {
	req := cluster.ReduceRequest{
		JobID: c.jobID,
		Op:    op.String(),
		Seq:   c.seq.Add(1),
		Value: v,
		Rank:  c.rank,
		Size:  len(c.peers),
	}
	var resp cluster.ReduceResponse
	if err := cluster.PostJSONLong(ctx, c.coordinator+"/reduce", req, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *HTTPComm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	return c.reduce(ctx, OpSum, v)
}

func (c *HTTPComm) AllreduceAnd(ctx context.Context, v bool) (bool, error) {
	r, err := c.reduce(ctx, OpAnd, boolValue(v))
	return r != 0, err
}

// HaloEnvelope converts an inbound halo post into a mailbox envelope.
func HaloEnvelope(m cluster.HaloMessage) Envelope {
	return Envelope{Kind: KindHalo, From: m.From, Tag: m.Tag, Payload: m.Row}
}
