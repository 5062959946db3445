package tracker

import (
	"context"

	"github.com/repeatfs/repeatfs/internal/store"
)

// RecordVDFBuild attributes a completed VDF derivation to the derivation
// command itself, exactly as if a user had run it: a write IO Interval
// from startTime to endTime on a synthetic File identified by the VDF
// leaf's virtual path (VDF leaves have no backing dev/inode, so their
// identity is derived the same way a pipe's is, per syntheticIdentity).
// pid is the actual OS process ID the derivation ran as; callerPID is the
// process that opened the leaf and triggered the build, recorded as the
// derivation's parent so Replicator schedules the derivation ahead of
// whatever reads the leaf, never in place of it.
func (t *Tracker) RecordVDFBuild(ctx context.Context, cmd []string, inputPath, virtualLeafPath string, pid, callerPID int, startTime, endTime float64, bytesWritten int64, failed bool) {
	if t.Disabled() {
		return
	}

	if len(cmd) == 0 {
		logger.Debug("vdf build: empty derivation command for %q", virtualLeafPath)
		return
	}

	p := &store.Process{
		Host: t.host, PStart: startTime, PID: pid,
		Exe: cmd[0], Cmd: cmd, Cwd: inputPath,
	}

	if caller, err := t.introspector.Snapshot(callerPID); err != nil {
		logger.Debug("vdf build: introspect caller pid %d: %v", callerPID, err)
	} else {
		callerRec := &store.Process{
			Host: caller.Host, PStart: caller.StartTime, PID: caller.PID,
			ParentPID: caller.ParentPID, ParentStart: caller.ParentStartTime,
			Exe: caller.Exe, ExeHash: caller.ExeHash, Cmd: caller.Cmd, Env: caller.Env, Cwd: caller.Cwd,
		}
		if err := t.store.UpsertProcess(ctx, callerRec); err != nil {
			logger.Debug("vdf build: upsert caller process %d: %v", callerPID, err)
		} else {
			p.ParentPID = caller.PID
			p.ParentStart = caller.StartTime
		}
	}

	if err := t.store.UpsertProcess(ctx, p); err != nil {
		logger.Debug("vdf build: upsert derivation process %d: %v", pid, err)
		return
	}

	dev, inode := syntheticIdentity(virtualLeafPath)
	f := &store.File{Host: t.host, Dev: dev, Inode: inode, Path: virtualLeafPath, IsVdf: true, Mtime: endTime}
	if err := t.store.UpsertFile(ctx, f); err != nil {
		logger.Debug("vdf build: upsert file %q: %v", virtualLeafPath, err)
		return
	}

	seq := t.nextSeq(f.ID)
	intervalID, err := t.store.OpenInterval(ctx, p.ID, f.ID, store.Write, seq, startTime)
	if err != nil {
		logger.Debug("vdf build: open interval: %v", err)
		return
	}
	if err := t.store.CloseInterval(ctx, intervalID, endTime, bytesWritten, failed); err != nil {
		logger.Debug("vdf build: close interval: %v", err)
	}
}
