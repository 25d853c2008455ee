// Package observe notifies callbacks when stored keys change.
//
// A Registry maps each key to at most one callback. Changes reach callbacks
// on two paths: writes and deletes made through the Registry's Store (the
// same context), and changes reported by a kvstore.ChangeSource (other
// contexts sharing the underlying store). Both paths are switched on by the
// first Watch and stay on until Close.
package observe

import (
	"errors"
	"io"
	"log"
	"sync"

	"typed_kv_store/internal/codec"
	"typed_kv_store/internal/kvstore"
)

var ErrClosed = errors.New("registry is closed")

// Callback receives the decoded new value of a key, or nil when the key was
// deleted.
type Callback func(value any)

type Options struct {
	// Changes reports changes made by other contexts. Optional.
	Changes kvstore.ChangeSource
	Logger  *log.Logger
}

type entry struct {
	id       uint64
	callback Callback
}

type Registry struct {
	store  *interceptor
	source kvstore.ChangeSource
	logger *log.Logger

	mu      sync.Mutex
	entries map[string]entry
	nextID  uint64
	closed  bool

	// Latches flipped by the first Watch. Reset only by Close.
	intercepting bool
	listening    bool
	stopListen   func()
}

// New creates a registry observing store.
func New(store kvstore.Store, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Registry{
		source:  opts.Changes,
		logger:  logger,
		entries: make(map[string]entry),
	}
	r.store = &interceptor{Store: store, registry: r}
	return r
}

// Store returns the store callers must write through for same-context
// changes to be observed. Until the first Watch it forwards unchanged.
func (r *Registry) Store() kvstore.Store {
	return r.store
}

// Watch registers callback for key, replacing any callback already
// registered for it. The returned function removes the registration; it does
// nothing once the key has been watched again by someone else.
func (r *Registry) Watch(key string, callback Callback) (func(), error) {
	if err := kvstore.ValidateKey("watch", key); err != nil {
		return nil, err
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	if !r.listening && r.source != nil {
		stop, err := r.source.Subscribe(r.handleChange)
		if err != nil {
			return nil, err
		}
		r.stopListen = stop
		r.listening = true
	}
	r.intercepting = true

	r.nextID++
	id := r.nextID
	r.entries[key] = entry{id: id, callback: callback}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if current, ok := r.entries[key]; ok && current.id == id {
				delete(r.entries, key)
			}
			r.mu.Unlock()
		})
	}, nil
}

// Intercepting reports whether same-context writes are being observed.
func (r *Registry) Intercepting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intercepting
}

// Listening reports whether the cross-context subscription is installed.
func (r *Registry) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Watched returns the number of keys with a registered callback.
func (r *Registry) Watched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// lookup returns the callback for key while interception is on.
func (r *Registry) lookup(key string) (Callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.intercepting {
		return nil, false
	}
	e, ok := r.entries[key]
	return e.callback, ok
}

func (r *Registry) notifyWrite(key string) {
	callback, ok := r.lookup(key)
	if !ok {
		return
	}
	raw, err := r.store.Store.Read(key)
	if err != nil {
		r.logger.Printf("watch: read %q: %v", key, err)
		return
	}
	value, err := codec.Decode(raw)
	if err != nil {
		r.logger.Printf("watch: decode %q: %v", key, err)
		return
	}
	callback(value)
}

func (r *Registry) notifyDelete(key string) {
	if callback, ok := r.lookup(key); ok {
		callback(nil)
	}
}

func (r *Registry) handleChange(change kvstore.Change) {
	r.mu.Lock()
	e, ok := r.entries[change.Key]
	active := r.listening
	r.mu.Unlock()
	if !ok || !active {
		return
	}

	if change.Deleted {
		e.callback(nil)
		return
	}
	value, err := codec.Decode(change.Value)
	if err != nil {
		r.logger.Printf("watch: decode %q from change: %v", change.Key, err)
		return
	}
	e.callback(value)
}

// Close drops every registration, cancels the cross-context subscription
// and stops intercepting writes. The underlying store is left open.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.entries = map[string]entry{}
	r.intercepting = false
	r.listening = false
	stop := r.stopListen
	r.stopListen = nil
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	return nil
}
