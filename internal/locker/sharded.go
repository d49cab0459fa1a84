// Package locker provides the per-customer exclusive scope that serializes
// profile read-modify-write cycles.
package locker

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/akylbek/payment-system/fraud-engine/internal/models"
)

const shardCount = 256

// ShardedLocker is an in-process locker over a fixed pool of channel mutexes.
// Memory stays bounded regardless of how many customers are seen; customers
// hashing to the same shard share a lock.
type ShardedLocker struct {
	shards [shardCount]chan struct{}
}

func NewShardedLocker() *ShardedLocker {
	l := &ShardedLocker{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// Lock blocks until the customer's shard is free or ctx is done.
func (l *ShardedLocker) Lock(ctx context.Context, customerID string) (func(), error) {
	shard := l.shards[shardIndex(customerID)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: customer %s: %v", models.ErrLockTimeout, customerID, ctx.Err())
	}
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
