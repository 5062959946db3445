package fsnode

import (
	"context"
	"io"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/repeatfs/repeatfs/internal/engine"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/plugin"
)

var fileLogger = logging.GetLogger().WithPrefix("file")

// File is a real, passthrough file. Every Open mints a Tracker file
// descriptor so the Provenance Tracker can correlate the reads and
// writes that follow it with the calling process.
type File struct {
	eng     *engine.Engine
	virtual string
	real    string
}

func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	info, err := os.Lstat(f.real)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(a, info)
	return nil
}

func (f *File) Access(_ context.Context, req *fuse.AccessRequest) error {
	return toFuseErr(checkAccess(f.real, req.Mask))
}

func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := applySetattr(f.real, req); err != nil {
		return toFuseErr(err)
	}
	info, err := os.Lstat(f.real)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(&resp.Attr, info)
	return nil
}

func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Trace("opening %q with flags %v", f.virtual, req.Flags)

	file, err := os.OpenFile(f.real, int(req.Flags), 0)
	if err != nil {
		return nil, toFuseErr(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return f.trackOpen(ctx, file, int(req.Flags), callerPID(req.Pid)), nil
}

// trackOpen mints a Tracker descriptor for an already-opened real file
// and dispatches EventOpen, shared by Open and Dir.Create (which also
// produces a live *os.File handle).
func (f *File) trackOpen(ctx context.Context, file *os.File, flags int, pid int) *FileHandle {
	fd := f.eng.NextFD()
	write := flags&(os.O_WRONLY|os.O_RDWR) != 0
	openTime := nowSeconds()

	f.eng.Tracker.Open(ctx, fd, f.real, write, pid, openTime)
	f.eng.Dispatcher.Dispatch(ctx, plugin.Context{
		Event: plugin.EventOpen, VirtualPath: f.virtual, RealPath: f.real, CallerPID: pid,
	})

	return &FileHandle{eng: f.eng, fd: fd, file: file, virtual: f.virtual}
}

func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	file, err := os.OpenFile(f.real, os.O_RDWR, 0)
	if err != nil {
		return toFuseErr(err)
	}
	defer file.Close()
	return toFuseErr(file.Sync())
}

// FileHandle is an open real file, keyed in the Tracker by fd.
type FileHandle struct {
	eng     *engine.Engine
	fd      uint64
	file    *os.File
	virtual string
}

func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	resp.Data = make([]byte, req.Size)
	n, err := fh.file.ReadAt(resp.Data, req.Offset)
	if err != nil && err != io.EOF {
		return toFuseErr(err)
	}
	resp.Data = resp.Data[:n]

	fh.eng.Tracker.Read(fh.fd, n)
	fh.eng.Dispatcher.Dispatch(ctx, plugin.Context{
		Event: plugin.EventRead, VirtualPath: fh.virtual, CallerPID: callerPID(req.Pid), Bytes: n,
	})
	return nil
}

func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := fh.file.WriteAt(req.Data, req.Offset)
	if err != nil {
		return toFuseErr(err)
	}
	resp.Size = n

	fh.eng.Tracker.Write(fh.fd, n)
	fh.eng.Dispatcher.Dispatch(ctx, plugin.Context{
		Event: plugin.EventWrite, VirtualPath: fh.virtual, CallerPID: callerPID(req.Pid), Bytes: n,
	})
	return nil
}

func (fh *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return nil
}

func (fh *FileHandle) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return toFuseErr(fh.file.Sync())
}

func (fh *FileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	fh.eng.Tracker.Close(ctx, fh.fd, nowSeconds())
	fh.eng.Dispatcher.Dispatch(ctx, plugin.Context{
		Event: plugin.EventClose, VirtualPath: fh.virtual, CallerPID: callerPID(req.Pid),
	})
	return toFuseErr(fh.file.Close())
}

var (
	_ fusefs.Node          = (*File)(nil)
	_ fusefs.NodeOpener    = (*File)(nil)
	_ fusefs.NodeSetattrer = (*File)(nil)
	_ fusefs.NodeAccesser  = (*File)(nil)
	_ fusefs.NodeFsyncer   = (*File)(nil)

	_ fusefs.HandleReader   = (*FileHandle)(nil)
	_ fusefs.HandleWriter   = (*FileHandle)(nil)
	_ fusefs.HandleFlusher  = (*FileHandle)(nil)
	_ fusefs.HandleReleaser = (*FileHandle)(nil)
)
