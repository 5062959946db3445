//go:build linux

package fsnode

import (
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
)

// fillAttr copies a real file's attributes onto a fuse.Attr,
// pulling inode/uid/gid/nlink/atime/ctime from the Linux-specific
// syscall.Stat_t that os.FileInfo wraps (mirroring
// internal/tracker/identity_linux.go's pattern of extracting what
// os.FileInfo alone doesn't expose).
func fillAttr(a *fuse.Attr, info os.FileInfo) {
	a.Mode = info.Mode()
	a.Size = uint64(info.Size())
	a.Mtime = info.ModTime()
	a.Atime = info.ModTime()
	a.Ctime = info.ModTime()
	a.BlockSize = 4096
	a.Blocks = uint64((info.Size() + 511) / 512)

	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	a.Inode = st.Ino
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Nlink = uint32(st.Nlink)
	a.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	a.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
}
