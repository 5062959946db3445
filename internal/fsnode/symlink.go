package fsnode

import (
	"context"
	"os"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"github.com/repeatfs/repeatfs/internal/engine"
)

// Symlink is a real, passthrough symbolic link.
type Symlink struct {
	eng     *engine.Engine
	virtual string
	real    string
}

func (s *Symlink) Attr(_ context.Context, a *fuse.Attr) error {
	info, err := os.Lstat(s.real)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(a, info)
	return nil
}

func (s *Symlink) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	target, err := os.Readlink(s.real)
	if err != nil {
		return "", toFuseErr(err)
	}
	return target, nil
}

var (
	_ fusefs.Node           = (*Symlink)(nil)
	_ fusefs.NodeReadlinker = (*Symlink)(nil)
)
