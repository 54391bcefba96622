package comm

import (
	"context"
	"sync"
)

// Mailbox buffers inbound envelopes until the local rank asks for them.
// A message may arrive before or after the matching Await; each
// (kind, from, tag) slot holds at most one envelope and duplicates are
// dropped.
type Mailbox struct {
	slots  map[slotKey]chan Envelope
	closed chan struct{}
	err    error
	mu     sync.Mutex
	once   sync.Once
}

type slotKey struct {
	tag  int64
	from int
	kind Kind
}

// NewMailbox returns an open Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		slots:  make(map[slotKey]chan Envelope),
		closed: make(chan struct{}),
	}
}

func (m *Mailbox) slot(k slotKey) chan Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.slots[k]
	if !ok {
		ch = make(chan Envelope, 1)
		m.slots[k] = ch
	}
	return ch
}

// Deliver stores env for a later Await. It never blocks.
func (m *Mailbox) Deliver(env Envelope) {
	select {
	case m.slot(slotKey{kind: env.Kind, from: env.From, tag: env.Tag}) <- env:
	default:
	}
}

// Await blocks until the envelope for (kind, from, tag) arrives.
func (m *Mailbox) Await(ctx context.Context, kind Kind, from int, tag int64) (Envelope, error) {
	k := slotKey{kind: kind, from: from, tag: tag}
	ch := m.slot(k)
	select {
	case env := <-ch:
		m.mu.Lock()
		delete(m.slots, k)
		m.mu.Unlock()
		return env, nil
	case <-m.closed:
		return Envelope{}, m.err
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close wakes every pending and future Await with err (ErrAborted if nil).
func (m *Mailbox) Close(err error) {
	m.once.Do(func() {
		if err == nil {
			err = ErrAborted
		}
		m.err = err
		close(m.closed)
	})
}

// Len returns the number of slots currently held, delivered or awaited.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
