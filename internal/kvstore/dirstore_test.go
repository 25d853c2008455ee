package kvstore

import (
	"strings"
	"testing"
	"time"
)

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case change := <-ch:
		return change
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for change")
		return Change{}
	}
}

func TestDirStore_SubscribeSeesOtherHandles(t *testing.T) {
	dir := t.TempDir()

	local, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open local store: %v", err)
	}
	defer local.Close()
	remote, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open remote store: %v", err)
	}
	defer remote.Close()

	changes := make(chan Change, 16)
	cancel, err := local.Subscribe(func(change Change) { changes <- change })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := remote.Write("theme", []byte("dark")); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	change := waitChange(t, changes)
	if change.Key != "theme" || string(change.Value) != "dark" || change.Deleted {
		t.Fatalf("Unexpected change: %+v", change)
	}

	if err := remote.Delete("theme"); err != nil {
		t.Fatalf("Remote delete failed: %v", err)
	}
	change = waitChange(t, changes)
	if change.Key != "theme" || !change.Deleted || change.Value != nil {
		t.Fatalf("Unexpected delete change: %+v", change)
	}
}

func TestDirStore_OwnWritesAreSuppressed(t *testing.T) {
	dir := t.TempDir()

	local, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer local.Close()
	remote, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open remote store: %v", err)
	}
	defer remote.Close()

	changes := make(chan Change, 16)
	cancel, err := local.Subscribe(func(change Change) { changes <- change })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	if err := local.Write("own", []byte("1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := local.Delete("own"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// A remote write after the local ones acts as a fence: everything
	// before it has been processed once it arrives.
	if err := remote.Write("fence", []byte("x")); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	change := waitChange(t, changes)
	if change.Key != "fence" {
		t.Fatalf("Own change leaked through subscription: %+v", change)
	}
}

func openPair(t *testing.T) (*DirStore, *DirStore) {
	t.Helper()
	dir := t.TempDir()
	local, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open local store: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	remote, err := NewDirStore(dir, nil)
	if err != nil {
		t.Fatalf("Failed to open remote store: %v", err)
	}
	t.Cleanup(func() { remote.Close() })
	return local, remote
}

func subscribe(t *testing.T, store *DirStore) <-chan Change {
	t.Helper()
	changes := make(chan Change, 16)
	cancel, err := store.Subscribe(func(change Change) { changes <- change })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(cancel)
	return changes
}

func trackedKeys(store *DirStore) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.states)
}

func TestDirStore_DeleteOfAbsentKeyKeepsLaterDeletesVisible(t *testing.T) {
	local, remote := openPair(t)
	changes := subscribe(t, local)

	if err := local.Delete("k"); err != nil {
		t.Fatalf("Delete of absent key failed: %v", err)
	}

	if err := remote.Write("k", []byte("v")); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	change := waitChange(t, changes)
	if change.Key != "k" || string(change.Value) != "v" {
		t.Fatalf("Unexpected change: %+v", change)
	}

	if err := remote.Delete("k"); err != nil {
		t.Fatalf("Remote delete failed: %v", err)
	}
	change = waitChange(t, changes)
	if change.Key != "k" || !change.Deleted {
		t.Fatalf("Expected remote delete, got %+v", change)
	}
}

func TestDirStore_WritesBeforeSubscribeAreNotRemembered(t *testing.T) {
	local, remote := openPair(t)

	if err := local.Write("theme", []byte("dark")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := local.Write("theme", []byte("light")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n := trackedKeys(local); n != 0 {
		t.Fatalf("Expected no tracked keys before Subscribe, got %d", n)
	}

	changes := subscribe(t, local)
	if err := remote.Write("theme", []byte("dark")); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	change := waitChange(t, changes)
	if change.Key != "theme" || string(change.Value) != "dark" {
		t.Fatalf("Expected remote write light->dark, got %+v", change)
	}
}

func TestDirStore_FailedWriteIsNotRemembered(t *testing.T) {
	local, _ := openPair(t)
	subscribe(t, local)

	// The escaped file name exceeds the file system's name limit.
	key := strings.Repeat("k", 300)
	if err := local.Write(key, []byte("v")); err == nil {
		t.Fatal("Expected write with an over-long key to fail")
	}
	if n := trackedKeys(local); n != 0 {
		t.Fatalf("Failed write left %d tracked keys", n)
	}
}

func TestDirStore_DeletedKeysAreForgotten(t *testing.T) {
	local, remote := openPair(t)
	changes := subscribe(t, local)

	for _, key := range []string{"a", "b", "c"} {
		if err := local.Write(key, []byte("1")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := local.Delete(key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	}
	if err := remote.Write("fence", []byte("x")); err != nil {
		t.Fatalf("Remote write failed: %v", err)
	}
	if change := waitChange(t, changes); change.Key != "fence" {
		t.Fatalf("Own change leaked through subscription: %+v", change)
	}

	// Only the live fence key is still tracked.
	if n := trackedKeys(local); n != 1 {
		t.Fatalf("Expected 1 tracked key, got %d", n)
	}
}

func TestDirStore_CancelStopsDelivery(t *testing.T) {
	dir := t.TempDir()

	local, _ := NewDirStore(dir, nil)
	defer local.Close()
	remote, _ := NewDirStore(dir, nil)
	defer remote.Close()

	first := make(chan Change, 16)
	second := make(chan Change, 16)
	cancelFirst, err := local.Subscribe(func(change Change) { first <- change })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cancelSecond, err := local.Subscribe(func(change Change) { second <- change })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancelSecond()

	cancelFirst()
	cancelFirst()

	remote.Write("k", []byte("v"))
	waitChange(t, second)

	select {
	case change := <-first:
		t.Fatalf("Cancelled handler received %+v", change)
	default:
	}
}

func TestDirStore_SubscribeAfterClose(t *testing.T) {
	store, _ := NewDirStore(t.TempDir(), nil)
	store.Close()

	if _, err := store.Subscribe(func(Change) {}); err == nil {
		t.Fatal("Expected error subscribing to a closed store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}
