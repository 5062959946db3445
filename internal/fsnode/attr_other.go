//go:build !linux

package fsnode

import (
	"os"

	"bazil.org/fuse"
)

// fillAttr degrades to the process's own uid/gid and os.FileInfo's
// portable fields on hosts without syscall.Stat_t, matching
// internal/tracker/identity_other.go's degraded-mode stance.
func fillAttr(a *fuse.Attr, info os.FileInfo) {
	a.Mode = info.Mode()
	a.Size = uint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime()
	a.Ctime = info.ModTime()
	a.Uid = uint32(os.Getuid())
	a.Gid = uint32(os.Getgid())
	a.BlockSize = 4096
	a.Blocks = uint64((info.Size() + 511) / 512)
}
