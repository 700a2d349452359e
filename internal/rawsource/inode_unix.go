//go:build !windows

package rawsource

import (
	"io/fs"
	"syscall"
)

// Inode extracts the device-relative inode number from a stat result on
// POSIX platforms, the identity signal the Correlator's InodeMatching
// method keys on.
func Inode(info fs.FileInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Ino), true
}

// WindowsFileID is always absent on POSIX platforms.
func WindowsFileID(info fs.FileInfo) (uint64, bool) {
	return 0, false
}
