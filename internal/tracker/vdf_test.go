package tracker

import (
	"context"
	"testing"

	"github.com/repeatfs/repeatfs/internal/store"
)

func TestRecordVDFBuildWritesInterval(t *testing.T) {
	st := openTestStore(t)
	tr := New(st, newFakeIntrospector(), "h1")
	ctx := context.Background()

	// callerPID 100 is "/bin/cat" in newFakeIntrospector — the reader that
	// opened the leaf, not the derivation. The derivation itself ran as
	// pid 999 under seqtk.
	derivationCmd := []string{"seqtk", "seq", "-A"}
	tr.RecordVDFBuild(ctx, derivationCmd, "/src/a.fasta", "/a.fasta+/a.fasta.count", 999, 100, 5.0, 5.5, 12, false)

	dev, inode := syntheticIdentity("/a.fasta+/a.fasta.count")
	fileID := store.FileID("h1", dev, inode)

	f, err := st.GetFile(ctx, fileID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if !f.IsVdf {
		t.Errorf("expected synthetic VDF file to be marked IsVdf")
	}

	intervals, err := st.IntervalsForFile(ctx, fileID)
	if err != nil {
		t.Fatalf("IntervalsForFile: %v", err)
	}
	if len(intervals) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(intervals))
	}
	if intervals[0].Direction != store.Write {
		t.Errorf("expected a write interval, got %v", intervals[0].Direction)
	}
	if intervals[0].Bytes == nil || *intervals[0].Bytes != 12 {
		t.Errorf("expected 12 bytes recorded, got %+v", intervals[0].Bytes)
	}

	proc, err := st.GetProcess(ctx, intervals[0].ProcessID)
	if err != nil {
		t.Fatalf("GetProcess: %v", err)
	}
	if proc.PID != 999 {
		t.Errorf("expected the recorded writer to be the derivation's own pid 999, got %d", proc.PID)
	}
	if len(proc.Cmd) == 0 || proc.Cmd[0] != "seqtk" {
		t.Errorf("expected the recorded writer's command to be the derivation command %v, got %v", derivationCmd, proc.Cmd)
	}
	if proc.Exe == "/bin/cat" {
		t.Errorf("recorded writer must not be attributed to the reading caller's executable")
	}
	if proc.ParentPID != 100 {
		t.Errorf("expected the reading caller (pid 100) to be recorded as the derivation's parent, got %d", proc.ParentPID)
	}
}

func TestRecordVDFBuildSkippedWhenDisabled(t *testing.T) {
	st := openTestStore(t)
	tr := New(st, &fakeIntrospector{available: false}, "h1")
	ctx := context.Background()

	tr.RecordVDFBuild(ctx, []string{"seqtk"}, "/src/a.fasta", "/a.fasta+/a.fasta.count", 999, 100, 5.0, 5.5, 12, false)

	dev, inode := syntheticIdentity("/a.fasta+/a.fasta.count")
	fileID := store.FileID("h1", dev, inode)
	if _, err := st.GetFile(ctx, fileID); err == nil {
		t.Errorf("expected no file to be recorded while tracker disabled")
	}
}
