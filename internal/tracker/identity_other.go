//go:build !linux

package tracker

import "os"

// identity degrades to a zero (dev, inode) pair on hosts that don't
// expose syscall.Stat_t; every File then collides on display path alone,
// which is acceptable only in VDF-only mode (introspection is already
// degraded on these hosts, see internal/introspect).
func identity(info os.FileInfo) (dev, inode uint64) {
	return 0, 0
}

// Identity exports identity for callers outside this package.
func Identity(info os.FileInfo) (dev, inode uint64) {
	return identity(info)
}
