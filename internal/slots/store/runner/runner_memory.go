package runner

import (
	"context"
	"hash/fnv"
	"sync"
)

const memoryShards = 64

// MemoryRunner serializes units of work per key with sharded mutexes. Two
// calls with the same key never overlap; unrelated keys proceed in parallel.
// Key collisions across shards only cost extra serialization, never safety.
//
// Unlike SQLRunner there is no rollback: effects fn has already applied
// persist when fn returns an error. Callers that need all-or-nothing across
// multiple stores get it only on the SQL backend.
type MemoryRunner struct {
	shards [memoryShards]sync.Mutex
}

func NewMemory() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := &r.shards[shardFor(key)]
	shard.Lock()
	defer shard.Unlock()
	return fn(ctx)
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % memoryShards
}
