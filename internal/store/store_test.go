package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertFileIsIdempotentByIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := &File{Host: "h1", Dev: 1, Inode: 100, Path: "/a.txt", Hash: "abc", Size: 3, Mtime: 1.0}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	firstID := f.ID

	f2 := &File{Host: "h1", Dev: 1, Inode: 100, Path: "/a-renamed.txt", Hash: "", Size: 3, Mtime: 2.0}
	if err := s.UpsertFile(ctx, f2); err != nil {
		t.Fatalf("UpsertFile (update): %v", err)
	}
	if f2.ID != firstID {
		t.Errorf("expected same identity across upserts, got %q and %q", firstID, f2.ID)
	}

	got, err := s.GetFile(ctx, firstID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Path != "/a-renamed.txt" {
		t.Errorf("expected updated path, got %q", got.Path)
	}
	if got.Hash != "abc" {
		t.Errorf("expected hash preserved when update carries empty hash, got %q", got.Hash)
	}
}

func TestUpsertProcessCreatesForkEdge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent := &Process{Host: "h1", PStart: 10.0, PID: 100, Exe: "/bin/sh"}
	if err := s.UpsertProcess(ctx, parent); err != nil {
		t.Fatalf("UpsertProcess(parent): %v", err)
	}

	child := &Process{Host: "h1", PStart: 11.0, PID: 101, ParentPID: 100, ParentStart: 10.0, Exe: "/bin/cp"}
	if err := s.UpsertProcess(ctx, child); err != nil {
		t.Fatalf("UpsertProcess(child): %v", err)
	}

	parentID, ok, err := s.ForkParent(ctx, child.ID)
	if err != nil {
		t.Fatalf("ForkParent: %v", err)
	}
	if !ok {
		t.Fatal("expected a fork edge to exist")
	}
	if parentID != parent.ID {
		t.Errorf("expected parent id %q, got %q", parent.ID, parentID)
	}
}

func TestOpenCloseIntervalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := &File{Host: "h1", Dev: 1, Inode: 1, Path: "/a.txt"}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	p := &Process{Host: "h1", PStart: 5, PID: 10, Exe: "/bin/cat"}
	if err := s.UpsertProcess(ctx, p); err != nil {
		t.Fatalf("UpsertProcess: %v", err)
	}

	id, err := s.OpenInterval(ctx, p.ID, f.ID, Write, 0, 100.0)
	if err != nil {
		t.Fatalf("OpenInterval: %v", err)
	}
	if err := s.CloseInterval(ctx, id, 100.5, 6, false); err != nil {
		t.Fatalf("CloseInterval: %v", err)
	}

	intervals, err := s.IntervalsForFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("IntervalsForFile: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
	if intervals[0].CloseTime == nil || *intervals[0].CloseTime != 100.5 {
		t.Errorf("expected close time 100.5, got %v", intervals[0].CloseTime)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := &File{Host: "h1", Dev: 1, Inode: 1, Path: "/a.txt", Hash: "deadbeef", Size: 4}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	p := &Process{Host: "h1", PStart: 5, PID: 10, Exe: "/bin/cat", Cmd: []string{"cat", "a.txt"}, Env: map[string]string{"PATH": "/bin"}}
	if err := s.UpsertProcess(ctx, p); err != nil {
		t.Fatalf("UpsertProcess: %v", err)
	}
	id, err := s.OpenInterval(ctx, p.ID, f.ID, Write, 0, 1.0)
	if err != nil {
		t.Fatalf("OpenInterval: %v", err)
	}
	if err := s.CloseInterval(ctx, id, 1.5, 4, false); err != nil {
		t.Fatalf("CloseInterval: %v", err)
	}

	doc, err := s.Export(ctx, f.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(doc.File) != 1 || len(doc.Process) != 1 || len(doc.Write) != 1 || len(doc.Read) != 0 {
		t.Fatalf("unexpected export shape: files=%d procs=%d reads=%d writes=%d",
			len(doc.File), len(doc.Process), len(doc.Read), len(doc.Write))
	}

	s2 := openTestStore(t)
	if err := s2.Import(ctx, doc); err != nil {
		t.Fatalf("Import: %v", err)
	}

	redoc, err := s2.Export(ctx, f.ID)
	if err != nil {
		t.Fatalf("re-Export: %v", err)
	}
	if len(redoc.File) != len(doc.File) || len(redoc.Process) != len(doc.Process) || len(redoc.Write) != len(doc.Write) {
		t.Errorf("expected re-export to match original shape")
	}
	for id, rec := range doc.File {
		re, ok := redoc.File[id]
		if !ok {
			t.Fatalf("expected file %q to round-trip", id)
		}
		if re.Path != rec.Path || re.Hash != rec.Hash {
			t.Errorf("file %q changed across round trip: %+v vs %+v", id, rec, re)
		}
	}
}
