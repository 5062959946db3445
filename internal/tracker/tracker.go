// Package tracker implements the provenance tracker: it subscribes to
// filesystem operations forwarded by the fsnode glue layer, correlates
// them with the process introspector's output, and emits File/Process/IO
// Interval records to the Store. Grounded on
// original_source/repeatfs/process_io.py's open/read/write/close
// lifecycle, adapted from its Python stream-buffer version into a fixed
// per-FD state table.
package tracker

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/repeatfs/repeatfs/internal/hashutil"
	"github.com/repeatfs/repeatfs/internal/introspect"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/metrics"
	"github.com/repeatfs/repeatfs/internal/store"
)

var logger = logging.GetLogger().WithPrefix("tracker")

// Tracker correlates filesystem operations with process identity and
// writes provenance records. A Tracker may run in "VDF-only mode" — no
// provenance writes — either because introspection is degraded or
// because the Store became unavailable: FS operations must never fail or
// block because provenance recording is down.
type Tracker struct {
	store        *store.Store
	introspector introspect.Introspector
	host         string

	fds  *fdTable
	seqs sync.Map // fileID -> *int64, next open-sequence number

	disabled atomic.Bool
	metrics  *metrics.Metrics
}

// WithMetrics attaches a Metrics collector set that Close records closed
// IO Intervals against, by direction.
func (t *Tracker) WithMetrics(m *metrics.Metrics) *Tracker {
	t.metrics = m
	return t
}

// New constructs a Tracker. If introspector reports Available() == false,
// the Tracker starts in VDF-only mode.
func New(st *store.Store, in introspect.Introspector, host string) *Tracker {
	t := &Tracker{
		store:        st,
		introspector: in,
		host:         host,
		fds:          newFdTable(),
	}
	if !in.Available() {
		logger.Warn("process introspection unavailable on this host, starting in VDF-only mode")
		t.disabled.Store(true)
	}
	return t
}

// Disabled reports whether the Tracker is currently skipping provenance
// writes.
func (t *Tracker) Disabled() bool {
	return t.disabled.Load() || !t.store.Available()
}

// Disable forces VDF-only mode regardless of introspector/store
// availability, for the `-p`/disable-provenance mount flag.
func (t *Tracker) Disable() {
	t.disabled.Store(true)
}

func (t *Tracker) nextSeq(fileID string) int {
	counter, _ := t.seqs.LoadOrStore(fileID, new(int64))
	return int(atomic.AddInt64(counter.(*int64), 1) - 1)
}

// Open records an open(2) of realPath for IO in the given direction on
// behalf of callerPID, keyed by fd for later Read/Write/Close calls. A
// failure here is logged and swallowed — the caller's actual open must
// proceed regardless.
func (t *Tracker) Open(ctx context.Context, fd uint64, realPath string, write bool, callerPID int, openTime float64) {
	if t.Disabled() {
		return
	}

	info, err := os.Stat(realPath)
	if err != nil {
		logger.Debug("open: stat %q: %v", realPath, err)
		return
	}
	dev, inode := identity(info)

	f := &store.File{Host: t.host, Dev: dev, Inode: inode, Path: realPath, Size: info.Size(), Mtime: float64(info.ModTime().UnixNano()) / 1e9}
	if err := t.store.UpsertFile(ctx, f); err != nil {
		logger.Debug("open: upsert file %q: %v", realPath, err)
		return
	}

	proc, err := t.introspector.Snapshot(callerPID)
	if err != nil {
		logger.Debug("open: introspect pid %d: %v", callerPID, err)
		return
	}

	p := &store.Process{
		Host: proc.Host, PStart: proc.StartTime, PID: proc.PID,
		ParentPID: proc.ParentPID, ParentStart: proc.ParentStartTime,
		Exe: proc.Exe, ExeHash: proc.ExeHash, Cmd: proc.Cmd, Env: proc.Env, Cwd: proc.Cwd,
	}
	if err := t.store.UpsertProcess(ctx, p); err != nil {
		logger.Debug("open: upsert process %d: %v", callerPID, err)
		return
	}

	dir := store.Read
	if write {
		dir = store.Write
	}

	seq := t.nextSeq(f.ID)
	intervalID, err := t.store.OpenInterval(ctx, p.ID, f.ID, dir, seq, openTime)
	if err != nil {
		logger.Debug("open: open interval: %v", err)
		return
	}

	t.fds.put(fd, &openFile{
		FileID: f.ID, ProcessID: p.ID, IntervalID: intervalID,
		Direction: dir, RealPath: realPath, OpenTime: openTime,
	})
}

// Read attributes n bytes of a successful read to fd's IO Interval. No
// store write happens here.
func (t *Tracker) Read(fd uint64, n int) {
	if n <= 0 || t.Disabled() {
		return
	}
	t.fds.addBytes(fd, int64(n))
}

// Write attributes n bytes of a successful write to fd's IO Interval. No
// store write happens here.
func (t *Tracker) Write(fd uint64, n int) {
	if n <= 0 || t.Disabled() {
		return
	}
	t.fds.addBytes(fd, int64(n))
}

// Close finalizes fd's IO Interval: sets close_time and the accumulated
// byte count, and if the interval was a write, recomputes the File's
// content hash by re-reading the real backing bytes.
func (t *Tracker) Close(ctx context.Context, fd uint64, closeTime float64) {
	of, ok := t.fds.remove(fd)
	if !ok {
		return
	}
	t.finalize(ctx, of, closeTime, false)
}

// finalize does the actual close-time bookkeeping shared by Close and the
// unmount-time drain of still-open descriptors.
func (t *Tracker) finalize(ctx context.Context, of *openFile, closeTime float64, truncated bool) {
	if t.Disabled() {
		return
	}

	bytes := atomic.LoadInt64(&of.Bytes)
	if err := t.store.CloseInterval(ctx, of.IntervalID, closeTime, bytes, truncated); err != nil {
		logger.Debug("close: close interval: %v", err)
	} else if t.metrics != nil {
		t.metrics.TrackerIOIntervals.WithLabelValues(string(of.Direction)).Inc()
	}

	if of.Direction != store.Write {
		return
	}

	hash, err := hashutil.HashFile(of.RealPath)
	if err != nil {
		logger.Debug("close: rehash %q: %v", of.RealPath, err)
		return
	}
	info, err := os.Stat(of.RealPath)
	if err != nil {
		return
	}
	if err := t.store.UpdateFileHash(ctx, of.FileID, hash, info.Size(), float64(info.ModTime().UnixNano())/1e9); err != nil {
		logger.Debug("close: update hash: %v", err)
	}
}

// Shutdown finalizes every still-open IO Interval as "truncated" at the
// given unmount time.
func (t *Tracker) Shutdown(ctx context.Context, unmountTime float64) {
	for _, of := range t.fds.drain() {
		t.finalize(ctx, of, unmountTime, true)
	}
}

// Rename follows the inode: the File identity is unchanged, only its
// display path is updated.
func (t *Tracker) Rename(ctx context.Context, oldPath, newPath string, dev, inode uint64) {
	if t.Disabled() {
		return
	}
	fileID := store.FileID(t.host, dev, inode)
	if err := t.store.RenameFile(ctx, fileID, newPath); err != nil {
		logger.Debug("rename: %v", err)
	}
}

// Unlink marks a File as removed without deleting its historical
// records — a File is never destroyed from the store.
func (t *Tracker) Unlink(ctx context.Context, dev, inode uint64, at float64) {
	if t.Disabled() {
		return
	}
	fileID := store.FileID(t.host, dev, inode)
	if err := t.store.MarkUnlinked(ctx, fileID, at); err != nil {
		logger.Debug("unlink: %v", err)
	}
}
