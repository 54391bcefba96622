package comm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// natsRetryDelay is how long a sender waits before retrying a peer that has
// not subscribed yet.
const natsRetryDelay = 20 * time.Millisecond

// NATSComm is a rank of a worker group that talks over a NATS server. Each
// rank subscribes to its own subject; every message is a request whose
// reply acknowledges that the envelope reached the peer's mailbox, so a
// message is never lost to a peer that is still starting up.
type NATSComm struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	box    *Mailbox
	prefix string
	seq    int64
	rank   int
	size   int
}

// DialNATS connects rank to the server at url and subscribes to its inbox
// for job.
func DialNATS(url, job string, rank, size int, opts ...nats.Option) (*NATSComm, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("rank %d out of range for group of %d", rank, size)
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	c := &NATSComm{
		nc:     nc,
		box:    NewMailbox(),
		prefix: "hybridlife." + job,
		rank:   rank,
		size:   size,
	}
	c.sub, err = nc.Subscribe(c.subject(rank), c.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush: %w", err)
	}
	return c, nil
}

func (c *NATSComm) subject(rank int) string {
	return fmt.Sprintf("%s.%d", c.prefix, rank)
}

func (c *NATSComm) handle(m *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(m.Data, &env); err != nil {
		log.Printf("nats rank %d: bad envelope on %s: %v", c.rank, m.Subject, err)
		return
	}
	c.box.Deliver(env)
	if err := m.Respond(nil); err != nil {
		log.Printf("nats rank %d: ack to %d: %v", c.rank, env.From, err)
	}
}

func (c *NATSComm) send(ctx context.Context, to int, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	for {
		_, err := c.nc.RequestWithContext(ctx, c.subject(to), data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("send to rank %d: %w", to, err)
		}
		select {
		case <-time.After(natsRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *NATSComm) recv(ctx context.Context, from int, kind Kind, tag int64) (Envelope, error) {
	return c.box.Await(ctx, kind, from, tag)
}

func (c *NATSComm) Rank() int { return c.rank }
func (c *NATSComm) Size() int { return c.size }

func (c *NATSComm) SendRecv(ctx context.Context, peer int, tag int64, payload []byte) ([]byte, error) {
	if err := checkPeer(c.rank, c.size, peer); err != nil {
		return nil, err
	}
	return pairSendRecv(ctx,
		func(ctx context.Context) error {
			return c.send(ctx, peer, Envelope{Kind: KindHalo, From: c.rank, Tag: tag, Payload: payload})
		},
		func(ctx context.Context) ([]byte, error) {
			env, err := c.recv(ctx, peer, KindHalo, tag)
			return env.Payload, err
		})
}

func (c *NATSComm) AllreduceSum(ctx context.Context, v int64) (int64, error) {
	c.seq++
	return reduceAtRoot(ctx, c, c.rank, c.size, c.seq, OpSum, v)
}

func (c *NATSComm) AllreduceAnd(ctx context.Context, v bool) (bool, error) {
	c.seq++
	r, err := reduceAtRoot(ctx, c, c.rank, c.size, c.seq, OpAnd, boolValue(v))
	return r != 0, err
}

// Close unsubscribes and closes the connection. Pending receives fail.
func (c *NATSComm) Close() error {
	c.box.Close(ErrAborted)
	err := c.sub.Unsubscribe()
	c.nc.Close()
	return err
}
