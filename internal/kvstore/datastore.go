// Package kvstore holds the synchronous key-value stores that typed values are
// persisted into. Every backend stores opaque bytes; encoding is done by the
// callers.
package kvstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	levelDb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Read when the key has no entry.
var ErrNotFound = errors.New("key not found")

type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	Has(key string) (bool, error)
	GetAll() (map[string][]byte, error)
	Close() error
}

// Keys returns the sorted keys held by store.
func Keys(store Store) ([]string, error) {
	all, err := store.GetAll()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

type InMemDataStore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

func NewInMemDataStore() *InMemDataStore {
	return &InMemDataStore{
		store: make(map[string][]byte),
	}
}

func (d *InMemDataStore) Read(key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if value, exists := d.store[key]; exists {
		return append([]byte(nil), value...), nil
	}

	return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
}

func (d *InMemDataStore) Write(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store[key] = append([]byte(nil), value...)
	return nil
}

func (d *InMemDataStore) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.store, key)
	return nil
}

func (d *InMemDataStore) Has(key string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.store[key]
	return exists, nil
}

func (d *InMemDataStore) Close() error {
	// nothing
	return nil
}

func (d *InMemDataStore) GetAll() (map[string][]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	response := make(map[string][]byte, len(d.store))
	for key, value := range d.store {
		response[key] = append([]byte(nil), value...)
	}
	return response, nil
}

type LevelDBStore struct {
	db   *levelDb.DB
	path string
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := levelDb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBStore{
		db:   db,
		path: path,
	}, nil
}

// Path returns the directory the database was opened at.
func (l *LevelDBStore) Path() string {
	return l.path
}

func (l *LevelDBStore) Read(key string) ([]byte, error) {
	value, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, levelDb.ErrNotFound) {
			return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (l *LevelDBStore) Write(key string, value []byte) error {
	err := l.db.Put([]byte(key), value, nil)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Delete(key string) error {
	err := l.db.Delete([]byte(key), nil)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Has(key string) (bool, error) {
	ok, err := l.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return ok, nil
}

func (l *LevelDBStore) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *LevelDBStore) GetAll() (map[string][]byte, error) {
	response := map[string][]byte{}
	iter := l.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())

		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		response[string(key)] = value
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate leveldb at %s: %w", l.path, err)
	}
	return response, nil
}
