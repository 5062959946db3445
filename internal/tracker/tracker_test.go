package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/repeatfs/repeatfs/internal/introspect"
	"github.com/repeatfs/repeatfs/internal/store"
)

type fakeIntrospector struct {
	available bool
	snapshots map[int]*introspect.Process
}

func (f *fakeIntrospector) Available() bool { return f.available }

func (f *fakeIntrospector) Snapshot(pid int) (*introspect.Process, error) {
	if p, ok := f.snapshots[pid]; ok {
		return p, nil
	}
	return &introspect.Process{PID: pid, Host: "h1", StartTime: 1.0}, nil
}

func newFakeIntrospector() *fakeIntrospector {
	return &fakeIntrospector{
		available: true,
		snapshots: map[int]*introspect.Process{
			100: {PID: 100, Host: "h1", StartTime: 1.0, Exe: "/bin/cat"},
		},
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenReadCloseRecordsInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	st := openTestStore(t)
	tr := New(st, newFakeIntrospector(), "h1")
	ctx := context.Background()

	tr.Open(ctx, 7, path, false, 100, 10.0)
	tr.Read(7, 6)
	tr.Close(ctx, 7, 10.5)

	f, err := st.GetFileByIdentity(ctx, "h1", identityDevFor(t, path), identityInodeFor(t, path))
	if err != nil {
		t.Fatalf("GetFileByIdentity: %v", err)
	}

	intervals, err := st.IntervalsForFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("IntervalsForFile: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
	if intervals[0].Bytes == nil || *intervals[0].Bytes != 6 {
		t.Errorf("expected 6 bytes attributed, got %v", intervals[0].Bytes)
	}
}

func TestWriteCloseRecomputesHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	st := openTestStore(t)
	tr := New(st, newFakeIntrospector(), "h1")
	ctx := context.Background()

	tr.Open(ctx, 3, path, true, 100, 1.0)

	if err := os.WriteFile(path, []byte("version 2"), 0644); err != nil {
		t.Fatalf("rewrite test file: %v", err)
	}
	tr.Write(3, 9)
	tr.Close(ctx, 3, 2.0)

	f, err := st.GetFileByIdentity(ctx, "h1", identityDevFor(t, path), identityInodeFor(t, path))
	if err != nil {
		t.Fatalf("GetFileByIdentity: %v", err)
	}
	if f.Hash == "" {
		t.Error("expected a recomputed hash after write-close")
	}
}

func TestDisabledTrackerSkipsWrites(t *testing.T) {
	st := openTestStore(t)
	tr := New(st, &fakeIntrospector{available: false}, "h1")
	if !tr.Disabled() {
		t.Fatal("expected tracker to start disabled when introspector unavailable")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("x"), 0644)

	ctx := context.Background()
	tr.Open(ctx, 1, path, false, 100, 1.0)
	tr.Close(ctx, 1, 2.0)
}

func identityDevFor(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	dev, _ := identity(info)
	return dev
}

func identityInodeFor(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	_, inode := identity(info)
	return inode
}
