package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestOpCombine(t *testing.T) {
	assert.Equal(t, int64(6), OpSum.Combine([]int64{1, 2, 3}))
	assert.Equal(t, int64(1), OpAnd.Combine([]int64{1, 1, 7}))
	assert.Equal(t, int64(0), OpAnd.Combine([]int64{1, 0, 1}))
	assert.Equal(t, int64(1), OpAnd.Combine(nil))

	for _, op := range []Op{OpSum, OpAnd} {
		parsed, err := ParseOp(op.String())
		require.NoError(t, err)
		assert.Equal(t, op, parsed)
	}
	_, err := ParseOp("max")
	assert.Error(t, err)
}

func TestSolo(t *testing.T) {
	ctx := context.Background()
	var c Comm = Solo{}

	assert.Equal(t, 0, c.Rank())
	assert.Equal(t, 1, c.Size())

	sum, err := c.AllreduceSum(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)

	and, err := c.AllreduceAnd(ctx, false)
	require.NoError(t, err)
	assert.False(t, and)

	_, err = c.SendRecv(ctx, 1, 0, nil)
	assert.ErrorIs(t, err, ErrNoPeer)
}

// runGroup runs fn once per member of a fresh local group and fails the
// test on the first error.
func runGroup(t *testing.T, size int, fn func(ctx context.Context, c Comm) error) {
	t.Helper()
	g := NewLocalGroup(size)
	eg, ctx := errgroup.WithContext(context.Background())
	for r := 0; r < size; r++ {
		c := g.Member(r)
		eg.Go(func() error { return fn(ctx, c) })
	}
	require.NoError(t, eg.Wait())
}

// TestLocalRingExchange has every rank exchange with both neighbours, in
// successor-then-predecessor order, over many rounds.
func TestLocalRingExchange(t *testing.T) {
	const size, rounds = 5, 50
	runGroup(t, size, func(ctx context.Context, c Comm) error {
		me := c.Rank()
		for tag := int64(0); tag < rounds; tag++ {
			if me+1 < size {
				got, err := c.SendRecv(ctx, me+1, tag, []byte(fmt.Sprintf("%d/%d", me, tag)))
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("%d/%d", me+1, tag); string(got) != want {
					return fmt.Errorf("rank %d got %q from successor, want %q", me, got, want)
				}
			}
			if me > 0 {
				got, err := c.SendRecv(ctx, me-1, tag, []byte(fmt.Sprintf("%d/%d", me, tag)))
				if err != nil {
					return err
				}
				if want := fmt.Sprintf("%d/%d", me-1, tag); string(got) != want {
					return fmt.Errorf("rank %d got %q from predecessor, want %q", me, got, want)
				}
			}
		}
		return nil
	})
}

func TestLocalReductions(t *testing.T) {
	const size = 6
	var mu sync.Mutex
	sums := map[int]int64{}
	ands := map[int]bool{}

	runGroup(t, size, func(ctx context.Context, c Comm) error {
		s, err := c.AllreduceSum(ctx, int64(c.Rank()+1))
		if err != nil {
			return err
		}
		a, err := c.AllreduceAnd(ctx, c.Rank() != 3)
		if err != nil {
			return err
		}
		mu.Lock()
		sums[c.Rank()], ands[c.Rank()] = s, a
		mu.Unlock()
		return nil
	})

	for r := 0; r < size; r++ {
		assert.Equal(t, int64(21), sums[r], "rank %d", r)
		assert.False(t, ands[r], "rank %d", r)
	}
}

func TestLocalSendRecvBadPeer(t *testing.T) {
	c := NewLocalGroup(2).Member(0)
	_, err := c.SendRecv(context.Background(), 0, 0, nil)
	assert.ErrorIs(t, err, ErrNoPeer)
	_, err = c.SendRecv(context.Background(), 2, 0, nil)
	assert.ErrorIs(t, err, ErrNoPeer)
}

// TestLocalFailFast checks that one failing rank releases ranks blocked in
// an exchange and in a reduction.
func TestLocalFailFast(t *testing.T) {
	g := NewLocalGroup(3)
	eg, ctx := errgroup.WithContext(context.Background())
	boom := errors.New("rank 2 died")

	eg.Go(func() error {
		_, err := g.Member(0).AllreduceSum(ctx, 1)
		return err
	})
	eg.Go(func() error {
		_, err := g.Member(1).SendRecv(ctx, 2, 0, []byte{1})
		return err
	})
	eg.Go(func() error { return boom })

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("group did not abort")
	}
}

func TestRendezvous(t *testing.T) {
	t.Run("all ranks get the combined value", func(t *testing.T) {
		rv := NewRendezvous()
		results := make([]int64, 4)
		var eg errgroup.Group
		for r := 0; r < 4; r++ {
			eg.Go(func() error {
				v, err := rv.Contribute(context.Background(), "job", 1, r, 4, OpSum, int64(r))
				results[r] = v
				return err
			})
		}
		require.NoError(t, eg.Wait())
		assert.Equal(t, []int64{6, 6, 6, 6}, results)
		assert.Zero(t, rv.Pending())
	})

	t.Run("rounds and groups are independent", func(t *testing.T) {
		rv := NewRendezvous()
		var eg errgroup.Group
		for _, group := range []string{"a", "b"} {
			for seq := int64(1); seq <= 3; seq++ {
				for r := 0; r < 2; r++ {
					eg.Go(func() error {
						v, err := rv.Contribute(context.Background(), group, seq, r, 2, OpAnd, 1)
						if err == nil && v != 1 {
							err = fmt.Errorf("%s/%d: got %d", group, seq, v)
						}
						return err
					})
				}
			}
		}
		require.NoError(t, eg.Wait())
	})

	t.Run("duplicate contribution is rejected", func(t *testing.T) {
		rv := NewRendezvous()
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _, _ = rv.Contribute(ctx, "job", 1, 0, 2, OpSum, 1) }()
		require.Eventually(t, func() bool { return rv.Pending() == 1 }, time.Second, time.Millisecond)

		_, err := rv.Contribute(context.Background(), "job", 1, 0, 2, OpSum, 1)
		assert.Error(t, err)
		cancel()
	})

	t.Run("mismatched group size is rejected", func(t *testing.T) {
		rv := NewRendezvous()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _, _ = rv.Contribute(ctx, "job", 1, 0, 3, OpSum, 1) }()
		require.Eventually(t, func() bool { return rv.Pending() == 1 }, time.Second, time.Millisecond)

		_, err := rv.Contribute(context.Background(), "job", 1, 1, 2, OpSum, 1)
		assert.Error(t, err)
	})

	t.Run("abort releases waiters and blocks later rounds", func(t *testing.T) {
		rv := NewRendezvous()
		errc := make(chan error, 1)
		go func() {
			_, err := rv.Contribute(context.Background(), "job", 1, 0, 2, OpSum, 1)
			errc <- err
		}()
		require.Eventually(t, func() bool { return rv.Pending() == 1 }, time.Second, time.Millisecond)

		rv.Abort("job", nil)
		assert.ErrorIs(t, <-errc, ErrAborted)

		_, err := rv.Contribute(context.Background(), "job", 2, 1, 2, OpSum, 1)
		assert.ErrorIs(t, err, ErrAborted)

		rv.Forget("job")
		_, err = rv.Contribute(context.Background(), "job", 3, 1, 2, OpSum, 1)
		assert.ErrorIs(t, err, ErrAborted)
	})

	t.Run("straggler after abort and forget fails at once", func(t *testing.T) {
		rv := NewRendezvous()
		rv.Abort("job-1", errors.New("worker w2 unhealthy"))
		rv.Forget("job-1")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		_, err := rv.Contribute(ctx, "job-1", 7, 1, 3, OpSum, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "w2 unhealthy")
		assert.Less(t, time.Since(start), time.Second)
		assert.Zero(t, rv.Pending())
	})

	t.Run("forgotten group refuses new rounds", func(t *testing.T) {
		rv := NewRendezvous()
		go func() { _, _ = rv.Contribute(context.Background(), "job", 1, 0, 2, OpSum, 1) }()
		v, err := rv.Contribute(context.Background(), "job", 1, 1, 2, OpSum, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		rv.Forget("job")
		_, err = rv.Contribute(context.Background(), "job", 2, 0, 2, OpSum, 1)
		assert.ErrorIs(t, err, ErrAborted)
		assert.Zero(t, rv.Pending())
	})

	t.Run("tombstones are bounded", func(t *testing.T) {
		rv := NewRendezvous()
		for i := 0; i < retiredGroups+10; i++ {
			rv.Forget(fmt.Sprintf("job-%d", i))
		}
		rv.Abort("job-last", nil)
		rv.Forget("job-last")

		rv.mu.Lock()
		defer rv.mu.Unlock()
		assert.Len(t, rv.aborted, retiredGroups)
		assert.Len(t, rv.retired, retiredGroups)
		assert.NotContains(t, rv.aborted, "job-0")
		assert.Contains(t, rv.aborted, "job-last")
	})
}

func TestMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("deliver before await", func(t *testing.T) {
		m := NewMailbox()
		m.Deliver(Envelope{Kind: KindHalo, From: 1, Tag: 7, Payload: []byte{1}})
		env, err := m.Await(ctx, KindHalo, 1, 7)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, env.Payload)
		assert.Zero(t, m.Len())
	})

	t.Run("await before deliver", func(t *testing.T) {
		m := NewMailbox()
		got := make(chan Envelope, 1)
		go func() {
			env, _ := m.Await(ctx, KindReduce, 2, 1)
			got <- env
		}()
		time.Sleep(10 * time.Millisecond)
		m.Deliver(Envelope{Kind: KindReduce, From: 2, Tag: 1, Value: 9})
		assert.Equal(t, int64(9), (<-got).Value)
	})

	t.Run("slots are keyed by kind, sender and tag", func(t *testing.T) {
		m := NewMailbox()
		m.Deliver(Envelope{Kind: KindHalo, From: 1, Tag: 1, Value: 1})
		m.Deliver(Envelope{Kind: KindHalo, From: 2, Tag: 1, Value: 2})
		m.Deliver(Envelope{Kind: KindResult, From: 1, Tag: 1, Value: 3})

		env, err := m.Await(ctx, KindResult, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), env.Value)
		env, err = m.Await(ctx, KindHalo, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), env.Value)
	})

	t.Run("close wakes waiters", func(t *testing.T) {
		m := NewMailbox()
		boom := errors.New("peer lost")
		go func() {
			time.Sleep(10 * time.Millisecond)
			m.Close(boom)
		}()
		_, err := m.Await(ctx, KindHalo, 0, 0)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("context cancellation", func(t *testing.T) {
		m := NewMailbox()
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := m.Await(cctx, KindHalo, 0, 0)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
