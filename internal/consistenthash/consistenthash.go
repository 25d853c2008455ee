// Package consistenthash maps keys onto a fixed set of shards.
package consistenthash

import (
	"fmt"
	"sync"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
)

const (
	DefaultPartitionCount    = 271
	DefaultReplicationFactor = 20
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type member string

func (m member) String() string {
	return string(m)
}

// Ring assigns every key to one shard index in [0, shards).
type Ring struct {
	numShards     int
	ring          *consistent.Consistent // The consistent hash ring from the library
	memberToShard map[string]int
	mtx           sync.RWMutex
}

// NewRing builds a ring for shardCount shards. Zero partitionCount or
// replicationFactor select the defaults.
func NewRing(shardCount, partitionCount, replicationFactor int) (*Ring, error) {
	if shardCount <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", shardCount)
	}
	if partitionCount <= 0 {
		partitionCount = DefaultPartitionCount
	}
	if replicationFactor <= 0 {
		replicationFactor = DefaultReplicationFactor
	}

	cfg := consistent.Config{
		PartitionCount:    partitionCount,    // Higher = better distribution (e.g., 271)
		ReplicationFactor: replicationFactor, // How many places each member appears (e.g., 20)
		Load:              1.25,              // Load balancing factor
		Hasher:            hasher{},          // Use xxhash for hashing
	}

	r := &Ring{
		numShards:     shardCount,
		ring:          consistent.New(nil, cfg),
		memberToShard: make(map[string]int, shardCount),
	}

	for shard := 0; shard < shardCount; shard++ {
		name := fmt.Sprintf("shard-%d", shard)
		r.memberToShard[name] = shard
		r.ring.Add(member(name))
	}

	return r, nil
}

// Shards returns the number of shards on the ring.
func (r *Ring) Shards() int {
	return r.numShards
}

// Locate returns the shard a key belongs to.
func (r *Ring) Locate(key string) int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	m := r.ring.LocateKey([]byte(key))
	return r.memberToShard[m.String()]
}

// Distribution counts how many of keys land on each shard.
func (r *Ring) Distribution(keys []string) map[int]int {
	stats := make(map[int]int, r.numShards)
	for _, key := range keys {
		stats[r.Locate(key)]++
	}
	return stats
}
