//go:build windows

package rawsource

import "io/fs"

// Inode is not meaningful on Windows; the Correlator falls back to
// WindowsFileID for identity matching on this platform.
func Inode(info fs.FileInfo) (uint64, bool) {
	return 0, false
}

// WindowsFileID would require an open handle and
// GetFileInformationByHandle to resolve the NTFS file reference number,
// which a bare os.Lstat result does not carry. Until that's wired, Windows
// builds fall back to the SizeAndTime and NameAndTiming detection methods
// rather than InodeMatching/WindowsId.
func WindowsFileID(info fs.FileInfo) (uint64, bool) {
	return 0, false
}
