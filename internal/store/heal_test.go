package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestStoreWithOptions(t *testing.T, opts Options) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.db")
	s, err := OpenWithOptions(path, opts)
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestProbeLoopHealsAndFlushesBuffer simulates a StoreUnavailable episode
// directly (marking the store down and buffering a write, rather than
// forcing a real SQLite failure), then exercises tryHeal the probeLoop
// goroutine would otherwise call on its own tick: the store must come back
// Available and the buffered write must land.
func TestProbeLoopHealsAndFlushesBuffer(t *testing.T) {
	s := openTestStoreWithOptions(t, Options{
		RetryAttempts: 1, RetryBackoff: time.Millisecond,
		BufferSize: 4, BufferWindow: time.Minute, ProbeInterval: time.Hour,
	})
	ctx := context.Background()

	s.mu.Lock()
	s.available = false
	s.mu.Unlock()

	f := &File{Host: "h1", Dev: 1, Inode: 1, Path: "/a.txt"}
	f.ID = FileID(f.Host, f.Dev, f.Inode)
	s.enqueueBuffered(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO file (id, host, dev, inode, path, hash, size, mtime, is_vdf)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.Host, f.Dev, f.Inode, f.Path, f.Hash, f.Size, f.Mtime, boolToInt(f.IsVdf))
		return err
	})

	if s.Available() {
		t.Fatal("expected store to report unavailable before healing")
	}

	s.tryHeal()

	if !s.Available() {
		t.Fatal("expected tryHeal to bring the store back available")
	}

	s.bufMu.Lock()
	remaining := len(s.buffered)
	s.bufMu.Unlock()
	if remaining != 0 {
		t.Errorf("expected buffer to drain after healing, %d entries remain", remaining)
	}

	got, err := s.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile after healing: %v", err)
	}
	if got.Path != "/a.txt" {
		t.Errorf("expected buffered write to have been replayed, got %+v", got)
	}
}

// TestWithTxSelfHealsAfterMarkingUnavailable confirms a fresh call to
// withTx succeeds and restores Available() on its own once the underlying
// condition that caused the outage is gone — i.e. availability isn't a
// one-way trip requiring some external actor to flip it back.
func TestWithTxSelfHealsAfterMarkingUnavailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.mu.Lock()
	s.available = false
	s.mu.Unlock()

	f := &File{Host: "h1", Dev: 2, Inode: 2, Path: "/b.txt"}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	if !s.Available() {
		t.Error("expected a successful withTx call to mark the store available again")
	}
}

// TestBufferDropsOldestOnOverflow exercises the drop-with-warning policy:
// once BufferSize is exceeded, the oldest entry is evicted rather than
// growing unbounded.
func TestBufferDropsOldestOnOverflow(t *testing.T) {
	s := openTestStoreWithOptions(t, Options{
		RetryAttempts: 1, RetryBackoff: time.Millisecond,
		BufferSize: 2, BufferWindow: time.Minute, ProbeInterval: time.Hour,
	})

	var order []int
	push := func(n int) {
		s.enqueueBuffered(func(tx *sql.Tx) error {
			order = append(order, n)
			return nil
		})
	}

	push(1)
	push(2)
	push(3)

	s.bufMu.Lock()
	n := len(s.buffered)
	dropped := s.bufferDropped
	s.bufMu.Unlock()

	if n != 2 {
		t.Errorf("expected buffer capped at 2 entries, got %d", n)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped entry, got %d", dropped)
	}
}
