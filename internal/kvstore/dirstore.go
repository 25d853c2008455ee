package kvstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	recordSuffix = ".rec"
	tempPattern  = "*.tmp"
)

// DirStore keeps one file per key inside a directory. Several DirStores (in
// the same or in different processes) may share a directory; each of them
// reports the changes made by the others through Subscribe.
type DirStore struct {
	dir    string
	logger *log.Logger

	mu       sync.Mutex
	states   map[string]*keyState
	watcher  *fsnotify.Watcher
	handlers map[uint64]func(Change)
	nextID   uint64
	done     chan struct{}
	closed   bool
}

// maxPending bounds the own operations remembered per key whose events have
// not been observed yet.
const maxPending = 64

type entryState struct {
	value   []byte
	present bool
}

func (e entryState) matches(change Change) bool {
	return e.present == !change.Deleted && bytes.Equal(e.value, change.Value)
}

// keyState tracks what this handle knows about one key. Own writes and
// deletes are queued in pending until their filesystem event arrives, so
// they are not reported back to the handle that made them.
type keyState struct {
	pending []entryState
	last    entryState
	known   bool
}

// NewDirStore opens a directory store rooted at dir, creating it if needed.
// A nil logger discards watcher diagnostics.
func NewDirStore(dir string, logger *log.Logger) (*DirStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DirStore{
		dir:      filepath.Clean(dir),
		logger:   logger,
		states:   make(map[string]*keyState),
		handlers: make(map[uint64]func(Change)),
		done:     make(chan struct{}),
	}, nil
}

// Dir returns the directory backing the store.
func (d *DirStore) Dir() string {
	return d.dir
}

func (d *DirStore) fileFor(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+recordSuffix)
}

func keyFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, recordSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(base, recordSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (d *DirStore) Read(key string) ([]byte, error) {
	value, err := os.ReadFile(d.fileFor(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

// Write and Delete hold d.mu across the filesystem change so that the event
// they cause is matched against the own operation recorded for it.
func (d *DirStore) Write(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tmp, err := os.CreateTemp(d.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	if err := os.Rename(tmpName, d.fileFor(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}

	d.recordOwn(key, entryState{value: append([]byte(nil), value...), present: true})
	return nil
}

func (d *DirStore) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.fileFor(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Nothing changed, so no event will follow.
			return nil
		}
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	d.recordOwn(key, entryState{})
	return nil
}

// recordOwn remembers an operation this handle completed so its event is not
// reported back. Without a watcher no event will be seen, so nothing is kept.
// d.mu must be held.
func (d *DirStore) recordOwn(key string, entry entryState) {
	if d.watcher == nil {
		return
	}
	state := d.stateFor(key)
	if len(state.pending) >= maxPending {
		state.pending = state.pending[1:]
	}
	state.pending = append(state.pending, entry)
	state.last = entry
	state.known = true
}

// stateFor returns the state for key. d.mu must be held.
func (d *DirStore) stateFor(key string) *keyState {
	state, ok := d.states[key]
	if !ok {
		state = &keyState{}
		d.states[key] = state
	}
	return state
}

func (d *DirStore) Has(key string) (bool, error) {
	_, err := os.Stat(d.fileFor(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check key %s: %w", key, err)
}

func (d *DirStore) GetAll() (map[string][]byte, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}
	response := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := keyFromFile(entry.Name())
		if !ok {
			continue
		}
		value, err := d.Read(key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		response[key] = value
	}
	return response, nil
}

// Subscribe reports changes made to the directory by other handles. The
// fsnotify watcher is started on the first call and lives until Close.
func (d *DirStore) Subscribe(handler func(Change)) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("store is closed")
	}
	if d.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", d.dir, err)
		}
		if err := watcher.Add(d.dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", d.dir, err)
		}
		d.watcher = watcher
		go d.run(watcher)
	}
	d.nextID++
	id := d.nextID
	d.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers, id)
			d.mu.Unlock()
		})
	}, nil
}

func (d *DirStore) run(watcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("dirstore: watch %s: %v", d.dir, err)
		case <-d.done:
			return
		}
	}
}

func (d *DirStore) handleEvent(event fsnotify.Event) {
	key, ok := keyFromFile(event.Name)
	if !ok {
		return
	}

	var change Change
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		value, err := os.ReadFile(event.Name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				d.logger.Printf("dirstore: read %q: %v", key, err)
			}
			return
		}
		change = Change{Key: key, Value: value}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if _, err := os.Stat(event.Name); err == nil {
			return
		}
		change = Change{Key: key, Deleted: true}
	default:
		return
	}

	d.mu.Lock()
	state := d.stateFor(key)
	for i, own := range state.pending {
		if own.matches(change) {
			// Own events arrive in order; earlier entries whose event was
			// missed (the file was already replaced or gone) are stale.
			state.pending = state.pending[i+1:]
			d.prune(key, state)
			d.mu.Unlock()
			return
		}
	}
	if state.known && state.last.matches(change) {
		d.mu.Unlock()
		return
	}
	state.last = entryState{value: change.Value, present: !change.Deleted}
	state.known = true
	d.prune(key, state)
	handlers := make([]func(Change), 0, len(d.handlers))
	for _, handler := range d.handlers {
		handlers = append(handlers, handler)
	}
	d.mu.Unlock()

	for _, handler := range handlers {
		handler(change)
	}
}

// prune forgets a deleted key once none of its own operations are pending,
// so the state kept is bounded by the keys present. d.mu must be held.
func (d *DirStore) prune(key string, state *keyState) {
	if len(state.pending) == 0 && !state.last.present {
		delete(d.states, key)
	}
}

func (d *DirStore) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	watcher := d.watcher
	d.watcher = nil
	d.handlers = map[uint64]func(Change){}
	d.states = map[string]*keyState{}
	d.mu.Unlock()

	close(d.done)
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
