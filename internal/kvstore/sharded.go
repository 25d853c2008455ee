package kvstore

import (
	"errors"
	"fmt"

	"typed_kv_store/internal/consistenthash"
)

// ShardedStore spreads keys across several backends. The shard for a key is
// fixed by the ring, so the same set of backends must be reopened in the same
// order to find existing keys again.
type ShardedStore struct {
	ring   *consistenthash.Ring
	shards []Store
}

func NewShardedStore(shards []Store) (*ShardedStore, error) {
	if len(shards) == 0 {
		return nil, errors.New("at least one shard is required")
	}
	ring, err := consistenthash.NewRing(len(shards), 0, 0)
	if err != nil {
		return nil, err
	}
	return &ShardedStore{ring: ring, shards: shards}, nil
}

func (s *ShardedStore) shardFor(key string) Store {
	return s.shards[s.ring.Locate(key)]
}

// ShardOf returns the index of the backend holding key.
func (s *ShardedStore) ShardOf(key string) int {
	return s.ring.Locate(key)
}

func (s *ShardedStore) Read(key string) ([]byte, error) {
	return s.shardFor(key).Read(key)
}

func (s *ShardedStore) Write(key string, value []byte) error {
	return s.shardFor(key).Write(key, value)
}

func (s *ShardedStore) Delete(key string) error {
	return s.shardFor(key).Delete(key)
}

func (s *ShardedStore) Has(key string) (bool, error) {
	return s.shardFor(key).Has(key)
}

func (s *ShardedStore) GetAll() (map[string][]byte, error) {
	response := map[string][]byte{}
	for i, shard := range s.shards {
		entries, err := shard.GetAll()
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		for key, value := range entries {
			response[key] = value
		}
	}
	return response, nil
}

func (s *ShardedStore) Close() error {
	var errs []error
	for i, shard := range s.shards {
		if err := shard.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shard %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
