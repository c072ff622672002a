package delivery

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/m3rciful/curatorbot/core/codec"
	"github.com/m3rciful/curatorbot/core/kvstore"
)

// QueueKey is the store key of the retry FIFO.
const QueueKey = "queue:retry"

// queue is a FIFO of request ids kept under one store key. Every change is
// a single Store.Update, so concurrent pushes from handlers and the sweep
// never lose entries.
type queue struct {
	store kvstore.Store
	ttl   time.Duration
}

func (q queue) update(ctx context.Context, fn func([]string) ([]string, error)) error {
	return q.store.Update(ctx, QueueKey, q.ttl, func(cur []byte, exists bool) ([]byte, error) {
		var ids []string
		if exists {
			if err := codec.Unmarshal(cur, &ids); err != nil {
				return nil, fmt.Errorf("decode retry queue: %w", err)
			}
		}
		next, err := fn(ids)
		if err != nil {
			return nil, err
		}
		return codec.Marshal(next)
	})
}

// push appends ids at the tail, skipping ids already queued. It reports
// how many were added.
func (q queue) push(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	added := 0
	err := q.update(ctx, func(cur []string) ([]string, error) {
		added = 0
		for _, id := range ids {
			if !slices.Contains(cur, id) {
				cur = append(cur, id)
				added++
			}
		}
		if added == 0 {
			return nil, kvstore.ErrSkipWrite
		}
		return cur, nil
	})
	return added, err
}

// pop removes and returns at most n ids from the head.
func (q queue) pop(ctx context.Context, n int) ([]string, error) {
	var out []string
	err := q.update(ctx, func(cur []string) ([]string, error) {
		if len(cur) == 0 {
			return nil, kvstore.ErrSkipWrite
		}
		if n > len(cur) {
			n = len(cur)
		}
		out = append(out, cur[:n]...)
		return cur[n:], nil
	})
	return out, err
}

func (q queue) list(ctx context.Context) ([]string, error) {
	data, ok, err := q.store.Get(ctx, QueueKey)
	if err != nil || !ok {
		return nil, err
	}
	var ids []string
	if err := codec.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode retry queue: %w", err)
	}
	return ids, nil
}
