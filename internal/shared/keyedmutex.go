package shared

import (
	"hash/fnv"
	"sync"
)

const mutexShards = 64

// KeyedMutex serializes work per string key with a fixed set of shard locks.
// Two holders of the same key never run concurrently; unrelated keys only
// contend on shard collisions. The zero value is ready to use.
//
// Every path that loads and saves a customer session must hold that
// customer's key, whether the message came from the customer or from an
// agent acting on their chat.
type KeyedMutex struct {
	shards [mutexShards]sync.Mutex
}

// Lock acquires the shard for key and returns the matching unlock func.
func (m *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	shard := &m.shards[h.Sum32()%mutexShards]
	shard.Lock()
	return shard.Unlock
}
