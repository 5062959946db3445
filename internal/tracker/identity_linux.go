//go:build linux

package tracker

import (
	"os"
	"syscall"
)

// identity extracts the (dev, inode) pair the File entity's essential
// identity is keyed on.
func identity(info os.FileInfo) (dev, inode uint64) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return uint64(st.Dev), st.Ino
}

// Identity exports identity for callers outside this package (the fsnode
// glue layer, which needs a File's essential identity to look up its
// provenance without duplicating host-OS-specific stat handling).
func Identity(info os.FileInfo) (dev, inode uint64) {
	return identity(info)
}
