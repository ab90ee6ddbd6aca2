package service

import (
	"context"
	"slices"
	"sync"
	"time"

	dErrors "gatehouse/pkg/domain-errors"
)

// numVisitShards spreads document locks so unrelated people rarely contend.
const numVisitShards = 128

// defaultVisitTxTimeout bounds a unit of work when the caller set no deadline.
const defaultVisitTxTimeout = 5 * time.Second

// shardedTx is the in-process VisitTx used with the memory stores.
type shardedTx struct {
	shards  [numVisitShards]sync.Mutex
	timeout time.Duration
}

func NewShardedTx() VisitTx {
	return &shardedTx{timeout: defaultVisitTxTimeout}
}

func (t *shardedTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// Ascending shard order so two multi-key units cannot deadlock.
	shards := make([]int, 0, len(keys))
	for _, k := range keys {
		shards = append(shards, int(hashKey(k)%numVisitShards))
	}
	slices.Sort(shards)
	shards = slices.Compact(shards)
	for _, sh := range shards {
		t.shards[sh].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			t.shards[shards[i]].Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
