package kvstore

import (
	"fmt"
	"log"
	"path/filepath"
)

const (
	BackendMemory         = "memory"
	BackendLevelDB        = "leveldb"
	BackendSQLite         = "sqlite"
	BackendDir            = "dir"
	BackendShardedLevelDB = "sharded-leveldb"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend string
	// Path is a directory for leveldb, dir and sharded-leveldb, and a file
	// for sqlite. Unused by memory.
	Path   string
	Shards int
	Logger *log.Logger
}

// Open constructs the backend named by opts.Backend.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewInMemDataStore(), nil
	case BackendLevelDB:
		return NewLevelDBStore(opts.Path)
	case BackendSQLite:
		return NewSQLiteStore(opts.Path)
	case BackendDir:
		return NewDirStore(opts.Path, opts.Logger)
	case BackendShardedLevelDB:
		if opts.Shards <= 0 {
			return nil, fmt.Errorf("sharded backend needs a positive shard count, got %d", opts.Shards)
		}
		shards := make([]Store, 0, opts.Shards)
		for i := 0; i < opts.Shards; i++ {
			shard, err := NewLevelDBStore(filepath.Join(opts.Path, fmt.Sprintf("shard-%d", i)))
			if err != nil {
				for _, opened := range shards {
					opened.Close()
				}
				return nil, err
			}
			shards = append(shards, shard)
		}
		return NewShardedStore(shards)
	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Backend)
	}
}
