package comm

import "context"

// pointToPoint is the tagged messaging a process-per-rank transport offers.
type pointToPoint interface {
	send(ctx context.Context, to int, env Envelope) error
	recv(ctx context.Context, from int, kind Kind, tag int64) (Envelope, error)
}

// reduceAtRoot implements an all-reduce on top of point-to-point messages:
// every rank sends its value to rank 0, rank 0 combines them in rank order
// and sends the result back to everyone.
func reduceAtRoot(ctx context.Context, p pointToPoint, rank, size int, seq int64, op Op, v int64) (int64, error) {
	if size == 1 {
		return op.Combine([]int64{v}), nil
	}
	if rank != 0 {
		if err := p.send(ctx, 0, Envelope{Kind: KindReduce, From: rank, Tag: seq, Value: v}); err != nil {
			return 0, err
		}
		env, err := p.recv(ctx, 0, KindResult, seq)
		if err != nil {
			return 0, err
		}
		return env.Value, nil
	}

	vals := make([]int64, size)
	vals[0] = v
	for from := 1; from < size; from++ {
		env, err := p.recv(ctx, from, KindReduce, seq)
		if err != nil {
			return 0, err
		}
		vals[from] = env.Value
	}
	result := op.Combine(vals)
	for to := 1; to < size; to++ {
		if err := p.send(ctx, to, Envelope{Kind: KindResult, From: 0, Tag: seq, Value: result}); err != nil {
			return 0, err
		}
	}
	return result, nil
}
