package tracker

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/repeatfs/repeatfs/internal/hashutil"
	"github.com/repeatfs/repeatfs/internal/store"
)

// syntheticIdentity derives a deterministic (dev, inode) pair from any
// string identifying a non-backed File — a pipe endpoint like
// "pipe:[12345]", or a VDF leaf's virtual path. Grounded on
// original_source/repeatfs/provenance/process_record.py's
// DescriptorEntry.gen_pipe, which likewise treats a pipe's kernel-assigned
// target string as its identity.
func syntheticIdentity(target string) (dev, inode uint64) {
	sum := hashutil.HashBytes([]byte(target))
	raw, err := hex.DecodeString(sum[:16])
	if err != nil {
		return 0, 0
	}
	return 0, binary.BigEndian.Uint64(raw)
}

// SyntheticIdentity exports syntheticIdentity for callers outside this
// package (the fsnode glue layer, which needs a VDF leaf's File identity
// to export its own provenance under its "+" directory).
func SyntheticIdentity(target string) (dev, inode uint64) {
	return syntheticIdentity(target)
}

func isPipeTarget(target string) bool {
	return strings.HasPrefix(target, "pipe:")
}

// RecordPipe registers provenance for a process's stdio pipe connections:
// a read on fd 0 if it's a pipe, and writes on fd 1/2 if they are. Per
// original_source/repeatfs/provenance/process_record.py's
// _record_pipes, these use open_time=close_time=0 — pipes have no
// meaningful wall-clock open time, only a causal position in the DAG via
// the processes on either end.
func (t *Tracker) RecordPipe(ctx context.Context, callerPID int, stdin, stdout, stderr string) {
	if t.Disabled() {
		return
	}

	type end struct {
		target string
		write  bool
	}
	ends := []end{{stdin, false}, {stdout, true}, {stderr, true}}

	proc, err := t.introspector.Snapshot(callerPID)
	if err != nil {
		return
	}
	p := &store.Process{
		Host: proc.Host, PStart: proc.StartTime, PID: proc.PID,
		ParentPID: proc.ParentPID, ParentStart: proc.ParentStartTime,
		Exe: proc.Exe, ExeHash: proc.ExeHash, Cmd: proc.Cmd, Env: proc.Env, Cwd: proc.Cwd,
	}
	if err := t.store.UpsertProcess(ctx, p); err != nil {
		return
	}

	for _, e := range ends {
		if !isPipeTarget(e.target) {
			continue
		}

		dev, inode := syntheticIdentity(e.target)
		f := &store.File{Host: t.host, Dev: dev, Inode: inode, Path: e.target, IsVdf: false}
		if err := t.store.UpsertFile(ctx, f); err != nil {
			continue
		}

		dir := store.Read
		if e.write {
			dir = store.Write
		}
		seq := t.nextSeq(f.ID)
		intervalID, err := t.store.OpenInterval(ctx, p.ID, f.ID, dir, seq, 0)
		if err != nil {
			continue
		}
		_ = t.store.CloseInterval(ctx, intervalID, 0, 0, false)

		for _, peerPID := range scanPipePeers(e.target, callerPID) {
			proc, err := t.introspector.Snapshot(peerPID)
			if err != nil {
				continue
			}
			peer := &store.Process{
				Host: proc.Host, PStart: proc.StartTime, PID: proc.PID,
				ParentPID: proc.ParentPID, ParentStart: proc.ParentStartTime,
				Exe: proc.Exe, ExeHash: proc.ExeHash, Cmd: proc.Cmd, Env: proc.Env, Cwd: proc.Cwd,
			}
			_ = t.store.UpsertProcess(ctx, peer)
		}
	}
}
