package fsnode

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"

	"github.com/repeatfs/repeatfs/internal/engine"
	"github.com/repeatfs/repeatfs/internal/logging"
	"github.com/repeatfs/repeatfs/internal/plugin"
	"github.com/repeatfs/repeatfs/internal/tracker"
)

var dirLogger = logging.GetLogger().WithPrefix("dir")

// Dir is a real, passthrough directory: every op mirrors the
// corresponding op on d.real, with no synthetic entries ever injected
// into ReadDirAll. A "+" VDF directory is reachable only via a direct
// Lookup by name — it never appears in a listing.
type Dir struct {
	eng     *engine.Engine
	virtual string
	real    string
}

func newDir(eng *engine.Engine, virtual string) *Dir {
	return &Dir{eng: eng, virtual: virtual, real: eng.Translator.RealPath(virtual)}
}

func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	info, err := os.Lstat(d.real)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(a, info)
	return nil
}

func (d *Dir) Access(_ context.Context, req *fuse.AccessRequest) error {
	return toFuseErr(checkAccess(d.real, req.Mask))
}

// Lookup classifies name within this directory, which is where the "+"
// VDF namespace and chained hops actually get recognized — the
// directory itself never enumerates them.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	virtual := joinVirtual(d.virtual, name)
	dirLogger.Debug("lookup %q in %q", name, d.virtual)

	c, err := d.eng.Translator.Classify(virtual)
	if err != nil {
		return nil, toFuseErr(err)
	}
	return nodeFor(d.eng, virtual, c)
}

// ReadDirAll mirrors os.ReadDir(d.real) exactly — no "+" entries are
// injected here.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries, err := os.ReadDir(d.real)
	if err != nil {
		return nil, toFuseErr(err)
	}

	dirents := make([]fuse.Dirent, 0, len(entries)+2)
	dirents = append(dirents, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	dirents = append(dirents, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, e := range entries {
		dirents = append(dirents, fuse.Dirent{Name: e.Name(), Type: direntType(e)})
	}
	return dirents, nil
}

func direntType(e os.DirEntry) fuse.DirentType {
	switch {
	case e.IsDir():
		return fuse.DT_Dir
	case e.Type()&os.ModeSymlink != 0:
		return fuse.DT_Link
	default:
		return fuse.DT_File
	}
}

func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	if d.eng.Translator.Shadowed(req.Name) {
		return nil, syscall.EINVAL
	}
	real := filepath.Join(d.real, req.Name)
	if err := os.Mkdir(real, os.FileMode(req.Mode)); err != nil {
		return nil, toFuseErr(err)
	}
	return &Dir{eng: d.eng, virtual: joinVirtual(d.virtual, req.Name), real: real}, nil
}

func (d *Dir) Mknod(_ context.Context, req *fuse.MknodRequest) (fusefs.Node, error) {
	if d.eng.Translator.Shadowed(req.Name) {
		return nil, syscall.EINVAL
	}
	real := filepath.Join(d.real, req.Name)
	if err := unix.Mknod(real, uint32(req.Mode), int(req.Rdev)); err != nil {
		return nil, toFuseErr(err)
	}
	return realNodeFor(d.eng, joinVirtual(d.virtual, req.Name), real)
}

func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	if d.eng.Translator.Shadowed(req.Name) {
		return nil, nil, syscall.EINVAL
	}
	virtual := joinVirtual(d.virtual, req.Name)
	real := filepath.Join(d.real, req.Name)

	file, err := os.OpenFile(real, int(req.Flags)|os.O_CREATE, req.Mode)
	if err != nil {
		return nil, nil, toFuseErr(err)
	}
	resp.Flags |= fuse.OpenDirectIO

	node := &File{eng: d.eng, virtual: virtual, real: real}
	handle := node.trackOpen(ctx, file, int(req.Flags), callerPID(req.Pid))
	return node, handle, nil
}

func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	real := filepath.Join(d.real, req.Name)
	virtual := joinVirtual(d.virtual, req.Name)

	info, statErr := os.Lstat(real)
	if err := os.Remove(real); err != nil {
		return toFuseErr(err)
	}

	if req.Dir || statErr != nil {
		return nil
	}

	dev, inode := tracker.Identity(info)
	d.eng.Tracker.Unlink(ctx, dev, inode, nowSeconds())
	d.eng.Dispatcher.Dispatch(ctx, plugin.Context{
		Event: plugin.EventUnlink, VirtualPath: virtual, RealPath: real, CallerPID: callerPID(req.Pid),
	})
	return nil
}

func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	nd, ok := newDir.(*Dir)
	if !ok {
		return syscall.EXDEV
	}

	oldReal := filepath.Join(d.real, req.OldName)
	newReal := filepath.Join(nd.real, req.NewName)
	oldVirtual := joinVirtual(d.virtual, req.OldName)
	newVirtual := joinVirtual(nd.virtual, req.NewName)

	info, statErr := os.Lstat(oldReal)
	if err := os.Rename(oldReal, newReal); err != nil {
		return toFuseErr(err)
	}

	if statErr == nil {
		dev, inode := tracker.Identity(info)
		d.eng.Tracker.Rename(ctx, oldReal, newReal, dev, inode)
		d.eng.Dispatcher.Dispatch(ctx, plugin.Context{
			Event: plugin.EventRename, OldPath: oldVirtual, NewPath: newVirtual, CallerPID: callerPID(req.Pid),
		})
	}
	return nil
}

func (d *Dir) Symlink(_ context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	if d.eng.Translator.Shadowed(req.NewName) {
		return nil, syscall.EINVAL
	}
	real := filepath.Join(d.real, req.NewName)
	if err := os.Symlink(req.Target, real); err != nil {
		return nil, toFuseErr(err)
	}
	return &Symlink{eng: d.eng, virtual: joinVirtual(d.virtual, req.NewName), real: real}, nil
}

func (d *Dir) Link(_ context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	oldReal, ok := realPathOf(old)
	if !ok {
		return nil, syscall.EXDEV
	}
	newReal := filepath.Join(d.real, req.NewName)
	if err := os.Link(oldReal, newReal); err != nil {
		return nil, toFuseErr(err)
	}
	return &File{eng: d.eng, virtual: joinVirtual(d.virtual, req.NewName), real: newReal}, nil
}

func (d *Dir) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if err := applySetattr(d.real, req); err != nil {
		return toFuseErr(err)
	}
	info, err := os.Lstat(d.real)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(&resp.Attr, info)
	return nil
}

func (d *Dir) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	f, err := os.Open(d.real)
	if err != nil {
		return toFuseErr(err)
	}
	defer f.Close()
	return toFuseErr(f.Sync())
}

// realNodeFor builds a Dir, File, or Symlink for a real backing path,
// branching on its actual mode.
func realNodeFor(eng *engine.Engine, virtual, real string) (fusefs.Node, error) {
	info, err := os.Lstat(real)
	if err != nil {
		return nil, toFuseErr(err)
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return &Symlink{eng: eng, virtual: virtual, real: real}, nil
	case info.IsDir():
		return &Dir{eng: eng, virtual: virtual, real: real}, nil
	default:
		return &File{eng: eng, virtual: virtual, real: real}, nil
	}
}

// realPathOf extracts the backing path of a node Link can target.
func realPathOf(n fusefs.Node) (string, bool) {
	switch v := n.(type) {
	case *File:
		return v.real, true
	case *Symlink:
		return v.real, true
	default:
		return "", false
	}
}

// applySetattr implements chmod/chown/truncate/utimens against a real
// path, shared by Dir and File's Setattr.
func applySetattr(real string, req *fuse.SetattrRequest) error {
	if req.Valid.Mode() {
		if err := os.Chmod(real, req.Mode); err != nil {
			return err
		}
	}
	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		if err := os.Chown(real, uid, gid); err != nil {
			return err
		}
	}
	if req.Valid.Size() {
		if err := os.Truncate(real, int64(req.Size)); err != nil {
			return err
		}
	}
	if req.Valid.Atime() || req.Valid.Mtime() {
		atime, mtime := req.Atime, req.Mtime
		if info, err := os.Stat(real); err == nil {
			if !req.Valid.Atime() {
				atime = info.ModTime()
			}
			if !req.Valid.Mtime() {
				mtime = info.ModTime()
			}
		}
		if err := os.Chtimes(real, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ fusefs.Node               = (*Dir)(nil)
	_ fusefs.NodeStringLookuper = (*Dir)(nil)
	_ fusefs.HandleReadDirAller = (*Dir)(nil)
	_ fusefs.NodeMkdirer        = (*Dir)(nil)
	_ fusefs.NodeCreater        = (*Dir)(nil)
	_ fusefs.NodeMknoder        = (*Dir)(nil)
	_ fusefs.NodeRemover        = (*Dir)(nil)
	_ fusefs.NodeRenamer        = (*Dir)(nil)
	_ fusefs.NodeSymlinker      = (*Dir)(nil)
	_ fusefs.NodeLinker         = (*Dir)(nil)
	_ fusefs.NodeSetattrer      = (*Dir)(nil)
	_ fusefs.NodeAccesser       = (*Dir)(nil)
	_ fusefs.NodeFsyncer        = (*Dir)(nil)
)
