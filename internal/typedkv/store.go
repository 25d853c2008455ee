// Package typedkv stores typed values under string keys on top of a
// kvstore.Store. Values are tagged with their category when written and come
// back as the same Go type; Get can fall back to (and persist) a default; and
// Watch reports changes to a key made here or by other contexts sharing the
// underlying store.
package typedkv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"typed_kv_store/internal/codec"
	"typed_kv_store/internal/kvstore"
	"typed_kv_store/internal/observe"
)

var (
	// ErrInvalidKey is wrapped by every error returned for an empty key.
	ErrInvalidKey = kvstore.ErrInvalidKey
	// ErrClosed is returned by Watch after Close.
	ErrClosed = observe.ErrClosed
)

// KeyError is the error returned for an invalid key.
type KeyError = kvstore.KeyError

type Options struct {
	// Changes delivers changes made by other contexts to Watch callbacks.
	Changes kvstore.ChangeSource
	Logger  *log.Logger
}

type Store struct {
	backend  kvstore.Store
	registry *observe.Registry
	logger   *log.Logger
}

// New wraps backend. The returned Store owns backend and closes it on Close.
func New(backend kvstore.Store, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		backend: backend,
		registry: observe.New(backend, observe.Options{
			Changes: opts.Changes,
			Logger:  logger,
		}),
		logger: logger,
	}
}

// store is the path every operation goes through, so that writes are seen by
// the registry once something is watched.
func (s *Store) store() kvstore.Store {
	return s.registry.Store()
}

// Set stores value under key.
func (s *Store) Set(key string, value any) error {
	if err := kvstore.ValidateKey("set", key); err != nil {
		return err
	}
	raw, err := codec.Encode(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return s.store().Write(key, raw)
}

// Get returns the value stored under key, or nil when there is none and no
// default was given.
func (s *Store) Get(key string, opts ...GetOption) (any, error) {
	if err := kvstore.ValidateKey("get", key); err != nil {
		return nil, err
	}
	return s.get(key, newGetOptions(opts))
}

func (s *Store) get(key string, o getOptions) (any, error) {
	raw, err := s.store().Read(key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			return nil, err
		}
		if !o.hasDefault {
			return nil, nil
		}
		if o.persist {
			if err := s.Set(key, o.def); err != nil {
				return nil, err
			}
		}
		return o.def, nil
	}

	value, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if err := kvstore.ValidateKey("delete", key); err != nil {
		return err
	}
	return s.store().Delete(key)
}

// Has reports whether key has a stored value.
func (s *Store) Has(key string) (bool, error) {
	if err := kvstore.ValidateKey("has", key); err != nil {
		return false, err
	}
	return s.store().Has(key)
}

// Keys returns every stored key in sorted order.
func (s *Store) Keys() ([]string, error) {
	return kvstore.Keys(s.store())
}

// Watch calls callback with the new value of key whenever it changes, and
// with nil when it is deleted. Only one callback is kept per key; watching a
// key again replaces the previous callback. Writes made through this Store
// are reported before Set or Delete returns.
func (s *Store) Watch(key string, callback func(value any)) (func(), error) {
	if err := kvstore.ValidateKey("watch", key); err != nil {
		return nil, err
	}
	return s.registry.Watch(key, callback)
}

// Close stops all watches and closes the backend.
func (s *Store) Close() error {
	if err := s.registry.Close(); err != nil {
		s.logger.Printf("typedkv: close registry: %v", err)
	}
	return s.backend.Close()
}
